package broker

import (
	"context"
	"errors"
)

var _ Session = (*DisabledSession)(nil)

// DisabledSession rejects everything. Used when the configured broker is not
// available in this build; the real IBKR gateway connection is supplied by
// the deployment environment.
type DisabledSession struct{}

func NewDisabledSession() *DisabledSession {
	return &DisabledSession{}
}

var errDisabled = errors.New("broker session not configured")

func (s *DisabledSession) Connect(ctx context.Context, host string, port, clientID int) error {
	return errDisabled
}

func (s *DisabledSession) Close() error { return nil }

func (s *DisabledSession) QualifyStock(ctx context.Context, symbol, exchange string) (Contract, error) {
	return Contract{}, errDisabled
}

func (s *DisabledSession) PlaceOrder(ctx context.Context, c Contract, o *Order) (*Trade, error) {
	return nil, errDisabled
}

func (s *DisabledSession) BrokerID(ctx context.Context, t *Trade) (int64, error) {
	return 0, errDisabled
}

func (s *DisabledSession) CancelOrder(ctx context.Context, o *Order) error {
	return errDisabled
}

func (s *DisabledSession) OpenTrades(ctx context.Context) ([]*Trade, error) {
	return nil, errDisabled
}

func (s *DisabledSession) Updates() <-chan Update {
	return nil
}
