package sshadapter

import "testing"

func TestConnectRequiresUsernamePassword(t *testing.T) {
	_, err := Connect(Config{Host: "127.0.0.1", Port: 22})
	if err != ErrRequiresUsernamePassword {
		t.Fatalf("expected ErrRequiresUsernamePassword, got %v", err)
	}
}

func TestConnectRequiresPassword(t *testing.T) {
	_, err := Connect(Config{Host: "127.0.0.1", Port: 22, Username: "root"})
	if err != ErrRequiresPassword {
		t.Fatalf("expected ErrRequiresPassword, got %v", err)
	}
}
