package resp

import "testing"

func TestParserHappyPath(t *testing.T) {
	p, err := NewParser(Array{BulkString("SET"), BulkString("k"), Integer(7)})
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	name, err := p.NextString()
	if err != nil || name != "SET" {
		t.Fatalf("NextString: %v %q", err, name)
	}
	key, err := p.NextString()
	if err != nil || key != "k" {
		t.Fatalf("NextString: %v %q", err, key)
	}
	n, err := p.NextInt()
	if err != nil || n != 7 {
		t.Fatalf("NextInt: %v %d", err, n)
	}
	if err := p.Finish(); err != nil {
		t.Errorf("Finish: %v", err)
	}
}

func TestParserNonArrayInit(t *testing.T) {
	if _, err := NewParser(SimpleString("OK")); err == nil {
		t.Error("expected error initializing parser on non-array frame")
	}
}

func TestParserFinishWithTrailingTokens(t *testing.T) {
	p, _ := NewParser(Array{BulkString("a"), BulkString("b")})
	p.NextString()
	if err := p.Finish(); err == nil {
		t.Error("expected Finish to fail with trailing token")
	}
}

func TestParserExhausted(t *testing.T) {
	p, _ := NewParser(Array{})
	if _, err := p.NextString(); err == nil {
		t.Error("expected error on exhausted cursor")
	}
}

func TestParserNextIntFromBulkDecimal(t *testing.T) {
	p, _ := NewParser(Array{BulkString("123")})
	n, err := p.NextInt()
	if err != nil || n != 123 {
		t.Fatalf("got %d, %v", n, err)
	}
}

func TestParserNextStringWrongVariant(t *testing.T) {
	p, _ := NewParser(Array{Integer(5)})
	if _, err := p.NextString(); err == nil {
		t.Error("expected error converting Integer to string")
	}
}
