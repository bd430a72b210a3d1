package biometric

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an operation was refused.
type ErrorKind int

const (
	// KindInput covers unusable input: undecodable image, no face, several faces.
	KindInput ErrorKind = iota + 1
	// KindQuality covers images whose quality metrics are below the policy minima.
	KindQuality
	// KindPolicy covers duplicates and the per-identity cap.
	KindPolicy
	// KindDependency covers detector and store failures.
	KindDependency
)

func (k ErrorKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindQuality:
		return "quality"
	case KindPolicy:
		return "policy"
	case KindDependency:
		return "dependency"
	default:
		return "unknown"
	}
}

var (
	ErrUndecodableImage  = errors.New("image could not be decoded")
	ErrNoFace            = errors.New("no face detected in image")
	ErrMultipleFaces     = errors.New("multiple faces detected")
	ErrInvalidIdentity   = errors.New("invalid identity id")
	ErrEmbeddingMismatch = errors.New("embedding does not match the active detector")
	ErrLowQuality        = errors.New("image quality too low")
	ErrDuplicate         = errors.New("duplicate enrollment")
	ErrCapReached        = errors.New("enrollment limit reached")
	ErrEmbeddingNotFound = errors.New("embedding not found")
	ErrNoImages          = errors.New("no images provided")
)

// Error carries a kind, a deterministic human readable reason and the
// underlying cause.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	case e.Reason != "":
		return e.Reason
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a biometric error, 0 for anything else.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return 0
}

// ReasonOf returns the user facing reason of err.
func ReasonOf(err error) string {
	var be *Error
	if errors.As(err, &be) && be.Reason != "" {
		return be.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func newError(kind ErrorKind, sentinel error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Err: sentinel}
}

func dependencyError(reason string, err error) *Error {
	return &Error{Kind: KindDependency, Reason: reason, Err: err}
}
