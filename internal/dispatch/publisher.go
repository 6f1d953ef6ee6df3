package dispatch

import (
	"encoding/json"

	"github.com/parley-labs/parley-bridge/internal/bus"
	"github.com/parley-labs/parley-bridge/internal/protocol"
)

// Publisher is the producing half of the side-effect queue. It satisfies the
// orchestrator's EffectQueue and does nothing but serialize and publish.
type Publisher struct {
	bus *bus.Client
}

func NewPublisher(busClient *bus.Client) *Publisher {
	return &Publisher{bus: busClient}
}

func (p *Publisher) EnqueueSMS(job protocol.SMSJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.bus.Conn().Publish(protocol.SubjectSMSSend, data)
}

func (p *Publisher) EnqueueTranscript(job protocol.TranscriptJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.bus.Conn().Publish(protocol.SubjectTranscriptSave, data)
}
