// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/streadway/amqp"

	"github.com/0xFannie/gmt-pay-dashboard/lib/chain/types"
	"github.com/0xFannie/gmt-pay-dashboard/lib/msg"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (msg.MsgBroker, error) {
	r := Amqp{}
	var err error

	if r.conn, err = amqp.Dial(uri); err != nil {
		return &r, err
	}
	r.ch = nil
	log.Printf("Connected to %s", uri)

	return &r, err
}

// Setup obtains an amqp channel and declares the "te" ("transfer events")
// exchange the aggregator publishes to.
func (r *Amqp) Setup(x interface{}) error {
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	return channel.ExchangeDeclare("te", "topic", true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel:%e", err)
		}
		r.ch = nil
		log.Printf("amqp.Channel closed!")
	}
	return r.conn.Close()
}

// SendTrans publishes transfer events to the "te" exchange
func (r *Amqp) SendTrans(chain string, txs []types.Transaction) (err error) {
	for _, t := range txs {
		var jsonDoc []byte
		if jsonDoc, err = json.Marshal(t); err != nil {
			return
		}
		// obtain channel if not present
		if r.ch == nil {
			if r.ch, err = r.conn.Channel(); err != nil {
				return
			}
		}
		m := amqp.Publishing{
			Headers:     amqp.Table{"x-trans-name": chain + "." + t.Hash},
			Body:        jsonDoc,
			ContentType: "application/json",
		}
		if err = r.ch.Publish("te", chain+".trans."+t.Hash, false, false, m); err != nil {
			log.Printf("[%s] Error sending transfer event to message broker %e", chain, err)
		}
	}
	return
}

// GetEvents consumes transfer events from the "te" exchange pushing them to the returned channel. The Mutex pointer is provided to ensure the consumed message has been fully dealt with by the management function, so the message consumed is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetEvents(chain string, mut *sync.Mutex) (<-chan types.Transaction, <-chan error, error) {
	var err error
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, nil, err
		}
	}

	if _, err = r.ch.QueueDeclare("te"+chain, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}

	if err = r.ch.QueueBind("te"+chain, chain+".*.*", "te", false, nil); err != nil {
		return nil, nil, err
	}

	msgs, errCons := r.ch.Consume("te"+chain, "aggregator-"+chain, false, false, false, false, nil)
	if errCons != nil {
		return nil, nil, errCons
	}

	eves := make(chan types.Transaction)
	errors := make(chan error)

	go func() {
		for m := range msgs {
			tx := new(types.Transaction)
			err := json.Unmarshal(m.Body, tx)
			if err != nil {
				errors <- err
				continue
			}
			eves <- *tx
			mut.Lock() // wait for the consumer to finish processing the event
			m.Ack(false)
		}
	}()
	return eves, errors, nil
}
