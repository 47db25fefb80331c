package auth

import (
	"testing"

	"slate-backend/internal/schema"
)

func TestTokenRoundTrip(t *testing.T) {
	user := &schema.UserContext{ID: 7, GroupID: 2, Email: "user@example.com"}

	token, err := GenerateToken("secret", user)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ParseToken("secret", token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != 7 || claims.GroupID != 2 || claims.Email != "user@example.com" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	user := &schema.UserContext{ID: 7, GroupID: 2}
	token, err := GenerateToken("secret", user)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken("other", token); err == nil {
		t.Error("token accepted with wrong secret")
	}
}

func TestTokenGarbage(t *testing.T) {
	if _, err := ParseToken("secret", "not.a.token"); err == nil {
		t.Error("garbage token accepted")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "hunter2" {
		t.Error("password stored in plaintext")
	}
	if !CheckPassword(hash, "hunter2") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "hunter3") {
		t.Error("wrong password accepted")
	}
}
