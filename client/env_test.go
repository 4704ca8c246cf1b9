package client

import (
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("SOUK_TEST_STR", "  hello  ")
	if got := EnvString("SOUK_TEST_STR", "def"); got != "hello" {
		t.Fatalf("got=%q", got)
	}
	if got := EnvString("SOUK_TEST_STR_UNSET", "def"); got != "def" {
		t.Fatalf("got=%q", got)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("SOUK_TEST_BOOL", "true")
	if !EnvBool("SOUK_TEST_BOOL", false) {
		t.Fatal("want true")
	}
	t.Setenv("SOUK_TEST_BOOL", "notabool")
	if EnvBool("SOUK_TEST_BOOL", false) {
		t.Fatal("invalid value must fall back to default")
	}
	if !EnvBool("SOUK_TEST_BOOL_UNSET", true) {
		t.Fatal("unset must use default")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("SOUK_TEST_INT", "42")
	if got := EnvInt("SOUK_TEST_INT", 7); got != 42 {
		t.Fatalf("got=%d", got)
	}
	t.Setenv("SOUK_TEST_INT", "-5")
	if got := EnvInt("SOUK_TEST_INT", 7); got != 7 {
		t.Fatalf("non-positive must use default, got=%d", got)
	}
	if got := EnvInt("SOUK_TEST_INT_UNSET", 7); got != 7 {
		t.Fatalf("got=%d", got)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("SOUK_TEST_DUR", "15s")
	if got := EnvDuration("SOUK_TEST_DUR", time.Second); got != 15*time.Second {
		t.Fatalf("got=%v", got)
	}
	t.Setenv("SOUK_TEST_DUR", "junk")
	if got := EnvDuration("SOUK_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("invalid must use default, got=%v", got)
	}
	if got := EnvDuration("SOUK_TEST_DUR_UNSET", 3*time.Second); got != 3*time.Second {
		t.Fatalf("got=%v", got)
	}
}
