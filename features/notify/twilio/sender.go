// Package twilio delivers reminders through the Twilio Messaging API. Contact
// addresses carry their channel prefix ("whatsapp:+1555...") and are passed to
// Twilio unchanged.
package twilio

import (
	"context"
	"errors"
	"fmt"

	twilio "github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/royalbadminton/streakbot/runtime/agent/telemetry"
	"github.com/royalbadminton/streakbot/runtime/notify"
)

type (
	// Options configures the Twilio sender.
	Options struct {
		// AccountSID and AuthToken authenticate against the REST API.
		AccountSID string
		AuthToken  string
		// From is the sender address, e.g. "whatsapp:+14155238886".
		From string
		// Logger receives send diagnostics. Defaults to a noop logger.
		Logger telemetry.Logger
	}

	// Sender implements notify.Sender over the Twilio REST API.
	Sender struct {
		api    messageAPI
		from   string
		logger telemetry.Logger
	}

	// messageAPI is the subset of the Twilio API service used by Sender.
	messageAPI interface {
		CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
	}
)

var _ notify.Sender = (*Sender)(nil)

// New returns a Sender authenticated with the given credentials.
func New(opts Options) (*Sender, error) {
	if opts.AccountSID == "" || opts.AuthToken == "" {
		return nil, errors.New("twilio credentials are required")
	}
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: opts.AccountSID,
		Password: opts.AuthToken,
	})
	return newSender(rc.Api, opts.From, opts.Logger)
}

func newSender(api messageAPI, from string, logger telemetry.Logger) (*Sender, error) {
	if api == nil {
		return nil, errors.New("twilio api is required")
	}
	if from == "" {
		return nil, errors.New("sender address is required")
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Sender{api: api, from: from, logger: logger}, nil
}

// Send implements notify.Sender. The Twilio SDK does not take a context; a
// cancelled context is honored before the request is issued.
func (s *Sender) Send(ctx context.Context, msg notify.Message) (notify.Receipt, error) {
	if err := msg.Validate(); err != nil {
		return notify.Receipt{}, err
	}
	if err := ctx.Err(); err != nil {
		return notify.Receipt{}, err
	}
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(s.from)
	params.SetBody(msg.Body)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		var rest *twclient.TwilioRestError
		if errors.As(err, &rest) {
			s.logger.Warn(ctx, "twilio rejected message", "to", msg.To, "code", rest.Code, "status", rest.Status)
			return notify.Receipt{}, fmt.Errorf("twilio %d: %s", rest.Code, rest.Message)
		}
		return notify.Receipt{}, fmt.Errorf("twilio: %w", err)
	}
	var sid string
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	s.logger.Info(ctx, "message sent", "to", msg.To, "sid", sid)
	return notify.Receipt{ID: sid}, nil
}
