package gateway

import (
	"PGate/service/codec"
)

type fanoutJob struct {
	sessions []*Session
	payload  []byte
}

// Fanout delivers server-pushed frames onto per-session send queues
// through a fixed worker pool, so a burst of notifications never runs on
// the dispatch path.
type Fanout struct {
	jobs chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range f.jobs {
				for _, s := range job.sessions {
					// Slow client: skip; the session sweeper deals with it
					_ = s.Enqueue(job.payload)
				}
			}
		}()
	}
	return f
}

func (f *Fanout) Broadcast(sessions []*Session, payload []byte) {
	if len(sessions) == 0 || len(payload) == 0 {
		return
	}
	f.jobs <- fanoutJob{sessions: sessions, payload: payload}
}

// Push marshals the envelope once and fans it out.
func (f *Fanout) Push(sessions []*Session, e *codec.Envelope) error {
	payload, err := codec.Marshal(e)
	if err != nil {
		return err
	}
	f.Broadcast(sessions, payload)
	return nil
}

func (f *Fanout) Stop() { close(f.jobs) }
