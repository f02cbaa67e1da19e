package auth

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "s3cret-pass" {
		t.Fatal("hash must not equal plaintext")
	}
	if !CheckPassword("s3cret-pass", hash) {
		t.Fatal("correct password rejected")
	}
	if CheckPassword("wrong-pass", hash) {
		t.Fatal("wrong password accepted")
	}
}

func TestCheckPasswordRejectsGarbageHash(t *testing.T) {
	if CheckPassword("anything", "not-a-bcrypt-hash") {
		t.Fatal("garbage hash accepted")
	}
	if CheckPassword("anything", "") {
		t.Fatal("empty hash accepted")
	}
}

func TestHashCodeDistinctPerCall(t *testing.T) {
	h1, err := HashCode("123456")
	if err != nil {
		t.Fatalf("hash code: %v", err)
	}
	h2, err := HashCode("123456")
	if err != nil {
		t.Fatalf("hash code: %v", err)
	}
	if h1 == h2 {
		t.Fatal("expected salted hashes to differ")
	}
	if !CheckCode("123456", h1) || !CheckCode("123456", h2) {
		t.Fatal("correct code rejected")
	}
	if CheckCode("654321", h1) {
		t.Fatal("wrong code accepted")
	}
}
