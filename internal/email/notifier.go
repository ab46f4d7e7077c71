package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"

	"easybox-network/internal/storage"
)

// Directory resolves the parties named in a reservation.
type Directory interface {
	GetBakery(ctx context.Context, id int64) (*storage.Bakery, error)
	GetLocker(ctx context.Context, id int64) (*storage.Locker, error)
}

var changeTemplate = template.Must(template.New("change").Parse(`<html><body>
<p>Hello {{.Bakery.Name}},</p>
<p>Reservation <b>#{{.Reservation.ID}}</b> at {{.Address}} changed from
<i>{{.From}}</i> to <b>{{.Reservation.Status}}</b>.</p>
<table>
<tr><th>Delivery</th><td>{{.Reservation.DeliveryTime.Format "2006-01-02 15:04 MST"}}</td></tr>
<tr><th>Window</th><td>{{.Reservation.ReservationStart.Format "2006-01-02 15:04"}} - {{.Reservation.ReservationEnd.Format "2006-01-02 15:04"}}</td></tr>
</table>
{{if eq .Reservation.Status "canceled"}}<p>The locker can no longer take this order. Please book a new compartment.</p>{{end}}
{{if eq .Reservation.Status "waiting_cleaning"}}<p>The compartment was taken out of service. Please contact support to recover the order.</p>{{end}}
</body></html>`))

// Notifier mails the owning bakery when a reservation is canceled or
// diverted behind its back.
type Notifier struct {
	client    *Client
	directory Directory
	logger    *slog.Logger
}

func NewNotifier(client *Client, directory Directory) *Notifier {
	return &Notifier{
		client:    client,
		directory: directory,
		logger:    slog.With("component", "email"),
	}
}

func (n *Notifier) ReservationChanged(ctx context.Context, r *storage.Reservation, from storage.ReservationStatus) error {
	msg, err := n.compose(ctx, r, from)
	if err != nil || msg == nil {
		return err
	}
	if err := n.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("send notification for reservation %d: %w", r.ID, err)
	}
	n.logger.Info("Bakery notified", "reservation", r.ID, "to", msg.To, "status", r.Status)
	return nil
}

// compose returns nil when nobody is to be told.
func (n *Notifier) compose(ctx context.Context, r *storage.Reservation, from storage.ReservationStatus) (*Message, error) {
	if r.BakeryID == 0 {
		return nil, nil
	}
	bakery, err := n.directory.GetBakery(ctx, r.BakeryID)
	if errors.Is(err, storage.ErrNotFound) {
		n.logger.Warn("Reservation references unknown bakery", "reservation", r.ID, "bakery", r.BakeryID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	address := fmt.Sprintf("locker %d", r.LockerID)
	if l, err := n.directory.GetLocker(ctx, r.LockerID); err == nil {
		address = l.Address
	}

	var body bytes.Buffer
	err = changeTemplate.Execute(&body, struct {
		Bakery      *storage.Bakery
		Reservation *storage.Reservation
		From        storage.ReservationStatus
		Address     string
	}{bakery, r, from, address})
	if err != nil {
		return nil, fmt.Errorf("render notification: %w", err)
	}

	return &Message{
		To:      []string{bakery.Email},
		Subject: fmt.Sprintf("Reservation #%d is now %s", r.ID, r.Status),
		HTML:    body.String(),
	}, nil
}
