package netsock

import "fmt"

// Fault reports corrupted OS-level wait state. It is raised with panic and
// is not a recoverable diagnostic: session isolation re-panics it.
type Fault struct {
	Op     string
	Detail string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("netsock: unrecoverable fault in %s: %s", f.Op, f.Detail)
}

func fault(op, format string, args ...any) {
	panic(&Fault{Op: op, Detail: fmt.Sprintf(format, args...)})
}
