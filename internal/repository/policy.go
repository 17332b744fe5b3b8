// internal/repository/policy.go
package repository

// ReadPolicy states where a repository read is answered from. Writes are
// always broadcast to every configured store; reads are not, and callers
// needing strong cross-store consistency must not rely on this layer alone.
type ReadPolicy int

const (
	// ReadPrimaryOnly answers reads from the first configured store only.
	ReadPrimaryOnly ReadPolicy = iota
	// ReadFirstAvailable tries stores in configured order and returns the
	// first hit. A miss in one store falls through to the next.
	ReadFirstAvailable
)

func (p ReadPolicy) String() string {
	switch p {
	case ReadPrimaryOnly:
		return "primary_only"
	case ReadFirstAvailable:
		return "first_available"
	default:
		return "unknown"
	}
}
