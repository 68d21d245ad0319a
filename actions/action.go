// Package actions defines the closed set of side-effect actions an event can
// trigger and the executors that perform them.
//
// An Action is a tagged descriptor: a kind plus only the configuration that
// kind needs. The job queue treats actions as opaque beyond dispatch; the
// Registry maps each kind to an Executor with a uniform contract. HTTP
// executors for webhook and slack ship here; the remaining kinds accept
// caller-supplied executors.
package actions

import (
	"encoding/json"
	"fmt"

	"github.com/c360/eventgate/errors"
)

// Kind identifies an action type. The set is closed; unknown kinds are
// rejected at decode time.
type Kind string

const (
	KindWebhook Kind = "webhook"
	KindSlack   Kind = "slack"
	KindEmail   Kind = "email"
	KindSMS     Kind = "sms"
	KindPush    Kind = "push"
	KindSearch  Kind = "search"
	KindCache   Kind = "cache"
)

// Valid reports whether the kind is one of the closed set
func (k Kind) Valid() bool {
	switch k {
	case KindWebhook, KindSlack, KindEmail, KindSMS, KindPush, KindSearch, KindCache:
		return true
	default:
		return false
	}
}

// WebhookConfig posts the event payload to an HTTP endpoint
type WebhookConfig struct {
	// URL to POST to; URLEnv names an environment variable holding it
	URL    string `json:"url,omitempty"`
	URLEnv string `json:"url_env,omitempty"`

	// Headers are added to the request
	Headers map[string]string `json:"headers,omitempty"`

	// BodyTemplate overrides the request body; "{{data}}" expands to the
	// event payload
	BodyTemplate string `json:"body_template,omitempty"`
}

// SlackConfig sends a message to a Slack incoming webhook
type SlackConfig struct {
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookURLEnv string `json:"webhook_url_env,omitempty"`
	Channel       string `json:"channel,omitempty"`

	// MessageTemplate is the message text; "{{data}}" expands to the event
	// payload
	MessageTemplate string `json:"message_template,omitempty"`
}

// EmailConfig sends an email
type EmailConfig struct {
	To              string `json:"to,omitempty"`
	ToTemplate      string `json:"to_template,omitempty"`
	Subject         string `json:"subject,omitempty"`
	SubjectTemplate string `json:"subject_template,omitempty"`
	BodyTemplate    string `json:"body_template,omitempty"`
	ReplyTo         string `json:"reply_to,omitempty"`
}

// SMSConfig sends a text message
type SMSConfig struct {
	Phone           string `json:"phone,omitempty"`
	PhoneTemplate   string `json:"phone_template,omitempty"`
	MessageTemplate string `json:"message_template,omitempty"`
}

// PushConfig sends a push notification
type PushConfig struct {
	DeviceToken   string `json:"device_token,omitempty"`
	TitleTemplate string `json:"title_template,omitempty"`
	BodyTemplate  string `json:"body_template,omitempty"`
}

// SearchConfig updates a search index
type SearchConfig struct {
	Index      string `json:"index"`
	IDTemplate string `json:"id_template,omitempty"`
}

// CacheConfig invalidates or refreshes cache entries
type CacheConfig struct {
	KeyPattern string `json:"key_pattern"`
	Operation  string `json:"operation"` // "invalidate" or "refresh"
}

// Action is one configured side effect. Exactly the config matching Kind is
// set; the rest are nil.
type Action struct {
	Kind Kind `json:"type"`

	Webhook *WebhookConfig `json:"webhook,omitempty"`
	Slack   *SlackConfig   `json:"slack,omitempty"`
	Email   *EmailConfig   `json:"email,omitempty"`
	SMS     *SMSConfig     `json:"sms,omitempty"`
	Push    *PushConfig    `json:"push,omitempty"`
	Search  *SearchConfig  `json:"search,omitempty"`
	Cache   *CacheConfig   `json:"cache,omitempty"`
}

func invalid(reason string) error {
	return errors.WrapInvalid(errors.ErrInvalidAction, "Action", "Validate", reason)
}

// Validate checks that the action's kind is known and its configuration is
// complete. Invalid actions are dead-lettered without retry, so validation
// runs before a job is ever enqueued.
func (a Action) Validate() error {
	if !a.Kind.Valid() {
		return invalid(fmt.Sprintf("unknown action type %q", a.Kind))
	}

	switch a.Kind {
	case KindWebhook:
		if a.Webhook == nil {
			return invalid("webhook action has no configuration")
		}
		if a.Webhook.URL == "" && a.Webhook.URLEnv == "" {
			return invalid("webhook action requires url or url_env")
		}
	case KindSlack:
		if a.Slack == nil {
			return invalid("slack action has no configuration")
		}
		if a.Slack.WebhookURL == "" && a.Slack.WebhookURLEnv == "" {
			return invalid("slack action requires webhook_url or webhook_url_env")
		}
	case KindEmail:
		if a.Email == nil {
			return invalid("email action has no configuration")
		}
		if a.Email.To == "" && a.Email.ToTemplate == "" {
			return invalid("email action requires to or to_template")
		}
		if a.Email.Subject == "" && a.Email.SubjectTemplate == "" {
			return invalid("email action requires a subject")
		}
		if a.Email.BodyTemplate == "" {
			return invalid("email action requires body_template")
		}
	case KindSMS:
		if a.SMS == nil {
			return invalid("sms action has no configuration")
		}
		if a.SMS.Phone == "" && a.SMS.PhoneTemplate == "" {
			return invalid("sms action requires phone or phone_template")
		}
		if a.SMS.MessageTemplate == "" {
			return invalid("sms action requires message_template")
		}
	case KindPush:
		if a.Push == nil {
			return invalid("push action has no configuration")
		}
		if a.Push.DeviceToken == "" {
			return invalid("push action requires device_token")
		}
	case KindSearch:
		if a.Search == nil {
			return invalid("search action has no configuration")
		}
		if a.Search.Index == "" {
			return invalid("search action requires an index")
		}
	case KindCache:
		if a.Cache == nil {
			return invalid("cache action has no configuration")
		}
		if a.Cache.KeyPattern == "" {
			return invalid("cache action requires key_pattern")
		}
		if op := a.Cache.Operation; op != "invalidate" && op != "refresh" {
			return invalid(fmt.Sprintf("cache operation must be invalidate or refresh, got %q", op))
		}
	}
	return nil
}

// UnmarshalJSON decodes an action and rejects unknown kinds
func (a *Action) UnmarshalJSON(raw []byte) error {
	type plain Action
	var p plain
	if err := json.Unmarshal(raw, &p); err != nil {
		return errors.WrapInvalid(err, "Action", "UnmarshalJSON",
			"malformed action")
	}
	if !Kind(p.Kind).Valid() {
		return errors.WrapInvalid(errors.ErrInvalidAction, "Action", "UnmarshalJSON",
			fmt.Sprintf("unknown action type %q", p.Kind))
	}
	*a = Action(p)
	return nil
}
