package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/interledgerx/plugin-bells/internal/events"
	"github.com/interledgerx/plugin-bells/internal/ledger"
)

// notificationAck is the optional per-message processing echo sent back on
// the socket when DebugReplyNotifications is enabled.
type notificationAck struct {
	Result       string     `json:"result"`
	IgnoreReason *ackReason `json:"ignoreReason,omitempty"`
}

type ackReason struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// dispatch classifies one inbound frame: an RPC response for a pending call
// id goes to the RPC channel and stops there; everything else is a transfer
// notification and gets its own goroutine so one slow or bad notification
// cannot delay later RPC responses.
func (p *Plugin) dispatch(sess *session, data []byte) {
	var probe struct {
		ID     *int64  `json:"id"`
		Method *string `json:"method"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		p.logger.Warnw("discarding unparseable frame", "error", err)
		return
	}

	if probe.ID != nil && probe.Method == nil {
		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err == nil && sess.rpc.Handle(&resp) {
			return
		}
	}

	go p.handleNotificationFrame(sess, data)
}

// handleNotificationFrame processes one notification end to end. Failures
// are caught per message; the acknowledgment, when configured, is sent only
// after every event subscriber has completed.
func (p *Plugin) handleNotificationFrame(sess *session, data []byte) {
	ctx := context.Background()
	err := p.processNotification(ctx, data)
	if err != nil {
		p.logger.Warnw("failure while processing notification", "error", err)
		if p.opts.DebugReplyNotifications {
			ack := notificationAck{
				Result:       "ignored",
				IgnoreReason: &ackReason{ID: ledger.ErrorName(err), Message: err.Error()},
			}
			if werr := sess.writeJSON(ack); werr != nil {
				p.logger.Debugw("failed to send notification ack", "error", werr)
			}
		}
		return
	}
	if p.opts.DebugReplyNotifications {
		if werr := sess.writeJSON(notificationAck{Result: "processed"}); werr != nil {
			p.logger.Debugw("failed to send notification ack", "error", werr)
		}
	}
}

func (p *Plugin) processNotification(ctx context.Context, data []byte) error {
	var note ledger.Notification
	if err := json.Unmarshal(data, &note); err != nil {
		return fmt.Errorf("parse notification: %w", err)
	}
	if note.Resource == nil {
		return &ledger.UnrelatedNotificationError{
			Message: "notification does not seem related to connector",
		}
	}

	p.logger.Debugw("notify transfer",
		"state", note.Resource.State,
		"id", note.Resource.ID,
	)
	return p.handleTransferNotification(ctx, note.Resource, note.RelatedResources)
}

// handleTransferNotification scans the native transfer's credits and debits
// for this plugin's own account. A transfer may match as a credit and,
// independently, as a debit; both branches fire when applicable.
func (p *Plugin) handleTransferNotification(ctx context.Context, native *ledger.NativeTransfer, related *ledger.RelatedResources) error {
	_, translator, _ := p.sessionSnapshot()
	if translator == nil {
		return ledger.ErrNotConnected
	}
	own := p.creds.Account

	handled := false
	for _, credit := range native.Credits {
		if credit.Account != own {
			continue
		}
		handled = true
		transfer, err := translator.FromNative(native, ledger.DirectionIncoming, credit)
		if err != nil {
			return err
		}
		if err := p.emitTransferEvents(ctx, native, related, transfer,
			events.IncomingPrepare, events.IncomingTransfer, events.IncomingFulfill, events.IncomingCancel); err != nil {
			return err
		}
	}

	for _, debit := range native.Debits {
		if debit.Account != own {
			continue
		}
		handled = true
		transfer, err := translator.FromNative(native, ledger.DirectionOutgoing, debit)
		if err != nil {
			return err
		}
		if err := p.emitTransferEvents(ctx, native, related, transfer,
			events.OutgoingPrepare, events.OutgoingTransfer, events.OutgoingFulfill, events.OutgoingCancel); err != nil {
			return err
		}
	}

	if !handled {
		return &ledger.UnrelatedNotificationError{
			Message: "notification does not seem related to connector",
		}
	}
	return nil
}

// emitTransferEvents maps the native lifecycle state onto the plugin's
// event set. An executed transfer may emit both the plain-completion and
// the fulfill event when both predicates hold; they carry distinct
// semantics.
func (p *Plugin) emitTransferEvents(ctx context.Context, native *ledger.NativeTransfer, related *ledger.RelatedResources, transfer *ledger.Transfer, prepare, completed, fulfill, cancel events.Event) error {
	if native.State == ledger.TransferPrepared {
		if err := p.emit(ctx, prepare, events.Payload{Transfer: transfer}); err != nil {
			return err
		}
	}
	if native.State == ledger.TransferExecuted && transfer.ExecutionCondition == "" {
		if err := p.emit(ctx, completed, events.Payload{Transfer: transfer}); err != nil {
			return err
		}
	}
	if native.State == ledger.TransferExecuted && related != nil && related.ExecutionConditionFulfillment != "" {
		payload := events.Payload{Transfer: transfer, Fulfillment: related.ExecutionConditionFulfillment}
		if err := p.emit(ctx, fulfill, payload); err != nil {
			return err
		}
	}
	if native.State == ledger.TransferRejected {
		payload := events.Payload{Transfer: transfer, Reason: "transfer timed out."}
		if related != nil && related.CancellationConditionFulfillment != "" {
			payload = events.Payload{Transfer: transfer, Fulfillment: related.CancellationConditionFulfillment}
		}
		if err := p.emit(ctx, cancel, payload); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plugin) emit(ctx context.Context, event events.Event, payload events.Payload) error {
	p.metrics.RecordNotification(ctx, string(event))
	return p.emitter.Emit(ctx, event, payload)
}
