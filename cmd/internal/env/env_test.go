package env

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("FITLINK_TEST_STRING", "  padded  ")
	if got := String("FITLINK_TEST_STRING", "def"); got != "padded" {
		t.Fatalf("String=%q want trimmed %q", got, "padded")
	}
	if got := String("FITLINK_TEST_STRING_ABSENT", "def"); got != "def" {
		t.Fatalf("String absent=%q want default", got)
	}
}

func TestBool(t *testing.T) {
	cases := []struct {
		val  string
		def  bool
		want bool
	}{
		{val: "true", def: false, want: true},
		{val: "0", def: true, want: false},
		{val: "not-a-bool", def: true, want: true},
		{val: "", def: false, want: false},
	}
	for _, tc := range cases {
		t.Setenv("FITLINK_TEST_BOOL", tc.val)
		if got := Bool("FITLINK_TEST_BOOL", tc.def); got != tc.want {
			t.Fatalf("Bool(%q, def=%v)=%v want=%v", tc.val, tc.def, got, tc.want)
		}
	}
}

func TestIntRejectsNonPositive(t *testing.T) {
	t.Setenv("FITLINK_TEST_INT", "64")
	if got := Int("FITLINK_TEST_INT", 7); got != 64 {
		t.Fatalf("Int=%d want=64", got)
	}

	for _, bad := range []string{"0", "-3", "nope"} {
		t.Setenv("FITLINK_TEST_INT", bad)
		if got := Int("FITLINK_TEST_INT", 7); got != 7 {
			t.Fatalf("Int(%q)=%d want default 7", bad, got)
		}
	}
}

func TestInt32AllowsZero(t *testing.T) {
	t.Setenv("FITLINK_TEST_INT32", "0")
	if got := Int32("FITLINK_TEST_INT32", 5); got != 0 {
		t.Fatalf("Int32 zero=%d want=0", got)
	}

	t.Setenv("FITLINK_TEST_INT32", "-1")
	if got := Int32("FITLINK_TEST_INT32", 5); got != 5 {
		t.Fatalf("Int32 negative=%d want default 5", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("FITLINK_TEST_DURATION", "250ms")
	if got := Duration("FITLINK_TEST_DURATION", time.Second); got != 250*time.Millisecond {
		t.Fatalf("Duration=%v want=250ms", got)
	}

	t.Setenv("FITLINK_TEST_DURATION", "-5s")
	if got := Duration("FITLINK_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("Duration negative=%v want default 1s", got)
	}
}

func TestCSV(t *testing.T) {
	t.Setenv("FITLINK_TEST_CSV", " a, b ,,c ")
	got := CSV("FITLINK_TEST_CSV", "")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("CSV=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("CSV[%d]=%q want=%q", i, got[i], want[i])
		}
	}

	t.Setenv("FITLINK_TEST_CSV", "")
	if got := CSV("FITLINK_TEST_CSV", "x,y"); len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Fatalf("CSV default=%v want=[x y]", got)
	}

	if got := CSV("FITLINK_TEST_CSV_ABSENT", ""); got != nil {
		t.Fatalf("CSV empty default=%v want nil", got)
	}
}
