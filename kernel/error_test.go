package kernel

import "testing"

func TestKernelError(t *testing.T) {
	err := &Error{
		Module:  "gdt",
		Message: "invalid privilege level",
	}

	if err.Error() != err.Message {
		t.Fatalf("expected err.Error() to return %q; got %q", err.Message, err.Error())
	}

	var asErr error = err
	if asErr.(*Error).Module != "gdt" {
		t.Fatal("expected the module to survive conversion to the error interface")
	}
}
