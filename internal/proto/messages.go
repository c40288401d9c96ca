package proto

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	MsgTypePaymentRequest      = "paymentRequest"
	MsgTypePaymentConfirmation = "paymentConfirmation"
	MsgTypePeerInfo            = "peerInfo"
	MsgTypePing                = "ping"
	MsgTypeBalanceRequest      = "balanceRequest"
	MsgTypeBalanceUpdate       = "balanceUpdate"
)

const (
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// BatteryUnknown marks a peer whose battery level was not readable.
const BatteryUnknown = float64(-1)

var ErrUnknownVariant = errors.New("unknown message variant")

// Message is the closed set of envelopes exchanged over the mesh. Decode
// rejects anything outside this set so a node never mis-routes a message it
// does not understand.
type Message interface {
	msgType() string
}

type PaymentRequestMsg struct {
	Type          string `json:"type"`
	Recipient     string `json:"recipient"`
	GrossAmount   string `json:"gross_amount"`
	SignedPayload string `json:"signed_payload"`
	Originator    string `json:"originator"`
	Broadcaster   string `json:"broadcaster,omitempty"`
}

type PaymentConfirmationMsg struct {
	Type        string `json:"type"`
	Fingerprint string `json:"fingerprint"`
	LedgerID    string `json:"ledger_id,omitempty"`
	Status      string `json:"status"`
}

type PeerInfoMsg struct {
	Type         string  `json:"type"`
	HasInternet  bool    `json:"has_internet"`
	BatteryLevel float64 `json:"battery_level"`
}

type PingMsg struct {
	Type  string `json:"type"`
	Nonce uint64 `json:"nonce,omitempty"`
}

type BalanceRequestMsg struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id"`
}

type BalanceUpdateMsg struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
	Sequence  int64  `json:"sequence"`
}

func (PaymentRequestMsg) msgType() string      { return MsgTypePaymentRequest }
func (PaymentConfirmationMsg) msgType() string { return MsgTypePaymentConfirmation }
func (PeerInfoMsg) msgType() string            { return MsgTypePeerInfo }
func (PingMsg) msgType() string                { return MsgTypePing }
func (BalanceRequestMsg) msgType() string      { return MsgTypeBalanceRequest }
func (BalanceUpdateMsg) msgType() string       { return MsgTypeBalanceUpdate }

// Payload returns the raw signed-payload bytes carried by a payment request.
func (m PaymentRequestMsg) Payload() ([]byte, error) {
	if m.SignedPayload == "" {
		return nil, fmt.Errorf("missing signed_payload")
	}
	raw, err := hex.DecodeString(m.SignedPayload)
	if err != nil {
		return nil, fmt.Errorf("bad signed_payload: %w", err)
	}
	return raw, nil
}

func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("nil message")
	}
	switch v := m.(type) {
	case PaymentRequestMsg:
		v.Type = MsgTypePaymentRequest
		return json.Marshal(v)
	case PaymentConfirmationMsg:
		v.Type = MsgTypePaymentConfirmation
		return json.Marshal(v)
	case PeerInfoMsg:
		v.Type = MsgTypePeerInfo
		return json.Marshal(v)
	case PingMsg:
		v.Type = MsgTypePing
		return json.Marshal(v)
	case BalanceRequestMsg:
		v.Type = MsgTypeBalanceRequest
		return json.Marshal(v)
	case BalanceUpdateMsg:
		v.Type = MsgTypeBalanceUpdate
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownVariant, m)
	}
}

func Decode(data []byte) (Message, error) {
	if len(data) == 0 || len(data) > MaxFrameSize {
		return nil, fmt.Errorf("invalid message size %d", len(data))
	}
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("decode message type: %w", err)
	}
	switch hdr.Type {
	case MsgTypePaymentRequest:
		return DecodePaymentRequestMsg(data)
	case MsgTypePaymentConfirmation:
		return DecodePaymentConfirmationMsg(data)
	case MsgTypePeerInfo:
		return DecodePeerInfoMsg(data)
	case MsgTypePing:
		var m PingMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MsgTypeBalanceRequest:
		return DecodeBalanceRequestMsg(data)
	case MsgTypeBalanceUpdate:
		return DecodeBalanceUpdateMsg(data)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrUnknownVariant)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, hdr.Type)
	}
}

func DecodePaymentRequestMsg(data []byte) (PaymentRequestMsg, error) {
	var m PaymentRequestMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return PaymentRequestMsg{}, err
	}
	if m.Type != "" && m.Type != MsgTypePaymentRequest {
		return PaymentRequestMsg{}, fmt.Errorf("unexpected msg type: %s", m.Type)
	}
	if m.Recipient == "" {
		return PaymentRequestMsg{}, fmt.Errorf("missing recipient")
	}
	if m.Originator == "" {
		return PaymentRequestMsg{}, fmt.Errorf("missing originator")
	}
	if _, err := ParseAmount(m.GrossAmount); err != nil {
		return PaymentRequestMsg{}, fmt.Errorf("bad gross_amount: %w", err)
	}
	if _, err := m.Payload(); err != nil {
		return PaymentRequestMsg{}, err
	}
	return m, nil
}

func DecodePaymentConfirmationMsg(data []byte) (PaymentConfirmationMsg, error) {
	var m PaymentConfirmationMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return PaymentConfirmationMsg{}, err
	}
	if m.Type != "" && m.Type != MsgTypePaymentConfirmation {
		return PaymentConfirmationMsg{}, fmt.Errorf("unexpected msg type: %s", m.Type)
	}
	if _, err := ParseFingerprint(m.Fingerprint); err != nil {
		return PaymentConfirmationMsg{}, err
	}
	if m.Status != StatusConfirmed && m.Status != StatusFailed {
		return PaymentConfirmationMsg{}, fmt.Errorf("bad status: %q", m.Status)
	}
	return m, nil
}

func DecodePeerInfoMsg(data []byte) (PeerInfoMsg, error) {
	var m PeerInfoMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return PeerInfoMsg{}, err
	}
	if m.Type != "" && m.Type != MsgTypePeerInfo {
		return PeerInfoMsg{}, fmt.Errorf("unexpected msg type: %s", m.Type)
	}
	if m.BatteryLevel != BatteryUnknown && (m.BatteryLevel < 0 || m.BatteryLevel > 1) {
		return PeerInfoMsg{}, fmt.Errorf("bad battery_level: %v", m.BatteryLevel)
	}
	return m, nil
}

func DecodeBalanceRequestMsg(data []byte) (BalanceRequestMsg, error) {
	var m BalanceRequestMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return BalanceRequestMsg{}, err
	}
	if m.Type != "" && m.Type != MsgTypeBalanceRequest {
		return BalanceRequestMsg{}, fmt.Errorf("unexpected msg type: %s", m.Type)
	}
	if m.AccountID == "" {
		return BalanceRequestMsg{}, fmt.Errorf("missing account_id")
	}
	return m, nil
}

func DecodeBalanceUpdateMsg(data []byte) (BalanceUpdateMsg, error) {
	var m BalanceUpdateMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return BalanceUpdateMsg{}, err
	}
	if m.Type != "" && m.Type != MsgTypeBalanceUpdate {
		return BalanceUpdateMsg{}, fmt.Errorf("unexpected msg type: %s", m.Type)
	}
	if m.AccountID == "" {
		return BalanceUpdateMsg{}, fmt.Errorf("missing account_id")
	}
	if _, err := ParseAmount(m.Balance); err != nil {
		return BalanceUpdateMsg{}, fmt.Errorf("bad balance: %w", err)
	}
	if m.Sequence < 0 {
		return BalanceUpdateMsg{}, fmt.Errorf("bad sequence: %d", m.Sequence)
	}
	return m, nil
}
