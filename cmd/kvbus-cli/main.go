// Command kvbus-cli is a thin command-line client over internal/client,
// for ad-hoc poking at a running kvbusd instance from a shell.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"kvbus/internal/client"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6380", "kvbusd address")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	c, err := client.Dial(*addr)
	if err != nil {
		fatalf("dial %s: %v", *addr, err)
	}
	defer c.Close()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "ping":
		runPing(c, rest)
	case "get":
		runGet(c, rest)
	case "set":
		runSet(c, rest)
	case "publish":
		runPublish(c, rest)
	case "subscribe":
		runSubscribe(c, rest)
	default:
		fatalf("unknown subcommand %q", cmd)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `kvbus-cli: a command-line client for kvbusd

Usage:
  kvbus-cli [-addr host:port] ping [message]
  kvbus-cli [-addr host:port] get <key>
  kvbus-cli [-addr host:port] set <key> <value> [EX seconds | PX ms]
  kvbus-cli [-addr host:port] publish <channel> <message>
  kvbus-cli [-addr host:port] subscribe <channel> [channel...]
`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "kvbus-cli: "+format+"\n", args...)
	os.Exit(1)
}

func runPing(c *client.Client, args []string) {
	var msg []byte
	if len(args) > 0 {
		msg = []byte(args[0])
	}
	reply, err := c.Ping(msg)
	if err != nil {
		fatalf("ping: %v", err)
	}
	fmt.Println(string(reply))
}

func runGet(c *client.Client, args []string) {
	if len(args) != 1 {
		fatalf("get requires exactly one key")
	}
	v, ok, err := c.Get(args[0])
	if err != nil {
		fatalf("get: %v", err)
	}
	if !ok {
		fmt.Println("(nil)")
		return
	}
	fmt.Println(string(v))
}

func runSet(c *client.Client, args []string) {
	if len(args) < 2 {
		fatalf("set requires a key and a value")
	}
	key, value := args[0], args[1]

	var opts []client.SetOption
	if len(args) >= 4 {
		n, err := strconv.ParseUint(args[3], 10, 64)
		if err != nil {
			fatalf("set: invalid ttl %q: %v", args[3], err)
		}
		switch args[2] {
		case "EX":
			opts = append(opts, client.WithEX(n))
		case "PX":
			opts = append(opts, client.WithPX(n))
		default:
			fatalf("set: unknown option %q (want EX or PX)", args[2])
		}
	}

	if err := c.Set(key, []byte(value), opts...); err != nil {
		fatalf("set: %v", err)
	}
	fmt.Println("OK")
}

func runPublish(c *client.Client, args []string) {
	if len(args) != 2 {
		fatalf("publish requires a channel and a message")
	}
	n, err := c.Publish(args[0], []byte(args[1]))
	if err != nil {
		fatalf("publish: %v", err)
	}
	fmt.Println(n)
}

func runSubscribe(c *client.Client, args []string) {
	if len(args) == 0 {
		fatalf("subscribe requires at least one channel")
	}
	sub, err := c.Subscribe(args...)
	if err != nil {
		fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			fmt.Printf("%s %s\n", msg.Channel, msg.Payload)
		case err, ok := <-sub.Errs():
			if !ok {
				return
			}
			if err != nil {
				fatalf("subscribe: connection error: %v", err)
			}
			return
		}
	}
}
