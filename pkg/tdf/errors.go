package tdf

import "fmt"

// Kind classifies an Error into one of the stable, machine-readable
// categories from the error handling design: Config, Source, Container,
// Manifest, Crypto, Policy, Kas, Aborted.
type Kind string

const (
	KindConfig    Kind = "config"
	KindSource    Kind = "source"
	KindContainer Kind = "container"
	KindManifest  Kind = "manifest"
	KindCrypto    Kind = "crypto"
	KindPolicy    Kind = "policy"
	KindKas       Kind = "kas"
	KindAborted   Kind = "aborted"
)

// Error wraps an underlying error with the operation that failed and a
// stable Kind so callers can switch on it without string matching. It never
// carries payload key material, wrapped-key bytes, or full KAS responses in
// its message.
type Error struct {
	Op   string // Operation that failed, e.g. "Decrypt.DecryptRange"
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tdf.%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// errorf builds an *Error from a format string applied to the underlying cause.
func errorf(op string, kind Kind, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// wrap attaches Op/Kind to an existing error without discarding it.
func wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
