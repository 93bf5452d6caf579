// Package harness drives scripted dialogs against a speech/dialog cloud
// service and validates the replies. The Connector wraps a dlspeech session:
// it streams text or WAV turns upstream, collects reply activities with their
// latencies, writes synthesized audio to disk and hands the caller a
// time-ordered view of what the bot said. Runner executes whole test files
// and produces reports.
package harness

import (
	"fmt"
	"time"
)

const (
	// DefaultReplyTimeout bounds WaitForReplies when neither the test file
	// nor the caller picks one.
	DefaultReplyTimeout = 20 * time.Second

	// DefaultPollInterval is how often the reply queue is sampled while
	// waiting for replies.
	DefaultPollInterval = 100 * time.Millisecond
)

// Settings configures one test run. It is assembled once per test file and
// never mutated afterwards; the connector only reads it.
type Settings struct {
	// SubscriptionKey and Region identify the cloud resource.
	SubscriptionKey string `yaml:"subscriptionKey" json:"subscriptionKey"`
	Region          string `yaml:"region" json:"region"`

	// Language is the recognition language, default "en-US".
	Language string `yaml:"language" json:"language"`

	// BotID routes the channel to a specific bot or commands application.
	BotID string `yaml:"botId" json:"botId"`

	// CustomSpeechEndpointID selects a custom recognition deployment.
	CustomSpeechEndpointID string `yaml:"customSpeechEndpointId" json:"customSpeechEndpointId"`

	// CustomVoiceDeploymentIDs selects custom synthesis voices.
	CustomVoiceDeploymentIDs []string `yaml:"customVoiceDeploymentIds" json:"customVoiceDeploymentIds"`

	// EndpointURL overrides the regional gateway endpoint.
	EndpointURL string `yaml:"endpointUrl" json:"endpointUrl"`

	// ReplyTimeout is the default WaitForReplies timeout.
	ReplyTimeout Duration `yaml:"replyTimeout" json:"replyTimeout"`

	// PollInterval is the reply queue sampling interval.
	PollInterval Duration `yaml:"pollInterval" json:"pollInterval"`

	// OutputFolder receives synthesized audio files and reports.
	OutputFolder string `yaml:"outputFolder" json:"outputFolder"`

	// Ignore lists activity patterns whose replies are discarded on receipt
	// and never counted toward an expected reply count.
	Ignore []*Pattern `yaml:"ignore" json:"ignore"`
}

// merge copies every field set in o over s. Used to layer test-file
// overrides over CLI context defaults.
func (s *Settings) merge(o *Settings) {
	if o.SubscriptionKey != "" {
		s.SubscriptionKey = o.SubscriptionKey
	}
	if o.Region != "" {
		s.Region = o.Region
	}
	if o.Language != "" {
		s.Language = o.Language
	}
	if o.BotID != "" {
		s.BotID = o.BotID
	}
	if o.CustomSpeechEndpointID != "" {
		s.CustomSpeechEndpointID = o.CustomSpeechEndpointID
	}
	if len(o.CustomVoiceDeploymentIDs) > 0 {
		s.CustomVoiceDeploymentIDs = o.CustomVoiceDeploymentIDs
	}
	if o.EndpointURL != "" {
		s.EndpointURL = o.EndpointURL
	}
	if o.ReplyTimeout != 0 {
		s.ReplyTimeout = o.ReplyTimeout
	}
	if o.PollInterval != 0 {
		s.PollInterval = o.PollInterval
	}
	if o.OutputFolder != "" {
		s.OutputFolder = o.OutputFolder
	}
	if len(o.Ignore) > 0 {
		s.Ignore = o.Ignore
	}
}

// Validate checks the fields a run cannot start without.
func (s *Settings) Validate() error {
	if s.SubscriptionKey == "" {
		return fmt.Errorf("harness: settings missing subscription key")
	}
	if s.Region == "" && s.EndpointURL == "" {
		return fmt.Errorf("harness: settings missing region")
	}
	return nil
}

// replyTimeout returns the configured timeout, or the default.
func (s *Settings) replyTimeout() time.Duration {
	if d := s.ReplyTimeout.Duration(); d > 0 {
		return d
	}
	return DefaultReplyTimeout
}

// pollInterval returns the configured poll interval, or the default.
func (s *Settings) pollInterval() time.Duration {
	if d := s.PollInterval.Duration(); d > 0 {
		return d
	}
	return DefaultPollInterval
}
