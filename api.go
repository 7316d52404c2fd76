package reactor

import "time"

// ReactorAPI is the control surface exposed by both Controller and
// Reactor: connect, disconnect, arm a timer, or send a command, each
// enqueuing one control event and returning as soon as it is queued.
type ReactorAPI[R Resource[ID], ID comparable] interface {
	Connect(ctx any) error
	Disconnect(id ID) error
	SetTimer(after time.Duration, token any) error
	Send(id ID, cmd any) error
	RequestWritable(id ID, want bool) error
}

var (
	_ ReactorAPI[Resource[int], int] = Controller[Resource[int], int]{}
	_ ReactorAPI[Resource[int], int] = (*Reactor[Resource[int], int])(nil)
)
