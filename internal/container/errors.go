package container

import "fmt"

// ResolutionError is returned when a named container type cannot be
// resolved to exactly one active container for an owner. It is a
// user-facing condition (disambiguate or set up an account), not a
// system fault.
type ResolutionError struct {
	Owner   Owner
	Type    Type
	Name    string
	Matches int
	Reason  string
}

func (e *ResolutionError) Error() string {
	what := string(e.Type)
	if e.Name != "" {
		what = e.Name
	}
	if e.Reason != "" {
		return fmt.Sprintf("cannot resolve %s for owner %s: %s", what, e.Owner.ID, e.Reason)
	}
	return fmt.Sprintf("cannot resolve %s for owner %s: %d active matches", what, e.Owner.ID, e.Matches)
}

// NotFoundError is returned when a container id does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("container %s not found", e.ID)
}
