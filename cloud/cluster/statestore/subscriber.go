// Package statestore subscribes to the membership topic of a statestore
// over HTTP and feeds decoded deltas into a cluster.MembershipTracker.
package statestore

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"

	"github.com/granitedata/granite/cloud/cluster"
)

const defaultPollInterval = 500 * time.Millisecond
const defaultHttpTries = 3

// DeltaSink consumes decoded topic deltas, typically a MembershipTracker.
type DeltaSink interface {
	UpdateMembership(delta cluster.TopicDelta)
}

type Client interface {
	Get(url string) (*http.Response, error)
}

func MakePesterClient() *pester.Client {
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = defaultHttpTries
	client.LogHook = func(e pester.ErrEntry) {
		log.Errorf("Retrying after failed statestore poll: %+v", e)
	}
	return client
}

// Subscriber polls the statestore's topic endpoint and applies each
// returned delta to the sink. The first poll after registration asks for
// version 0, which the statestore answers with a full topic map.
type Subscriber struct {
	rootURI      string
	topic        string
	local        *cluster.BackendDescriptor
	client       Client
	sink         DeltaSink
	pollInterval time.Duration
	version      int64
	closeCh      chan struct{}
}

func NewSubscriber(rootURI string, local *cluster.BackendDescriptor, sink DeltaSink) *Subscriber {
	return &Subscriber{
		rootURI:      rootURI,
		topic:        cluster.MembershipTopicName,
		local:        local,
		client:       MakePesterClient(),
		sink:         sink,
		pollInterval: defaultPollInterval,
		closeCh:      make(chan struct{}),
	}
}

// Start runs the poll loop until Close is called. Consecutive failed
// polls back off exponentially and reset the topic version so the next
// successful poll re-syncs with a full map.
func (s *Subscriber) Start() {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = 0 // keep polling forever
	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			if err := s.pollOnce(); err != nil {
				wait := retry.NextBackOff()
				log.WithFields(log.Fields{"err": err, "wait": wait}).Error("Statestore poll failed")
				s.version = 0
				select {
				case <-s.closeCh:
					return
				case <-time.After(wait):
				}
				continue
			}
			retry.Reset()
		}
	}
}

func (s *Subscriber) Close() {
	close(s.closeCh)
}

func (s *Subscriber) pollOnce() error {
	url := fmt.Sprintf("%s/topics/%s?from=%d", s.rootURI, s.topic, s.version)
	if s.local != nil {
		url += "&subscriber=" + s.local.Address.String()
	}
	resp, err := s.client.Get(url)
	if err != nil {
		return errors.Wrap(err, "polling statestore")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("statestore returned %d", resp.StatusCode)
	}
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading statestore response")
	}
	var delta cluster.TopicDelta
	if err := json.Unmarshal(body, &delta); err != nil {
		return errors.Wrap(err, "decoding topic delta")
	}
	s.sink.UpdateMembership(delta)
	s.version = delta.Version
	return nil
}
