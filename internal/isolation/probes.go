package isolation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"coachlink.app/internal/gateway"
	"coachlink.app/internal/identity"
)

type probe struct {
	name          string
	resource      string
	scenario      int
	needsFixtures bool
	run           func(ctx context.Context, h *Harness, fx *fixtures, f *Finding)
}

func (h *Harness) probes() []probe {
	return []probe{
		{name: "clients.read", resource: "clients", scenario: 1, run: probeClientsRead},
		{name: "clients.write", resource: "clients", scenario: 2, run: probeClientsWrite},
		{name: "messages.read", resource: "messages", scenario: 3, needsFixtures: true, run: probeMessagesRead},
		{name: "messages.write", resource: "messages", needsFixtures: true, run: probeMessagesWrite},
		{name: "integrations.read", resource: "device_integrations", scenario: 4, run: probeIntegrationsRead},
		{name: "integrations.write", resource: "device_integrations", run: probeIntegrationsWrite},
		{name: "weight_logs.read", resource: "weight_logs", needsFixtures: true, run: probeWeightLogsRead},
		{name: "weight_logs.write", resource: "weight_logs", needsFixtures: true, run: probeWeightLogsWrite},
		{name: "workouts.read", resource: "workout_assignments", needsFixtures: true, run: probeWorkoutsRead},
		{name: "workouts.write", resource: "workout_assignments", needsFixtures: true, run: probeWorkoutsWrite},
		{name: "credentials", resource: "identity", scenario: 5, run: probeCredentials},
		{name: "provenance", resource: "clients", scenario: 6, run: probeProvenance},
	}
}

// visible reports whether marker appears anywhere in rows. Encoding failures
// count as visible.
func visible(rows any, marker string) bool {
	b, err := json.Marshal(rows)
	if err != nil {
		return true
	}
	return bytes.Contains(b, []byte(marker))
}

func today() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

func unavailable(err error) bool {
	return errors.Is(err, gateway.ErrUnavailable) || errors.Is(err, identity.ErrUnavailable)
}

// absent marks a leak when viewer's rows contain marker.
func absent[T any](f *Finding, viewer *account, what, marker string, rows []T, err error) {
	if err != nil {
		f.mark(Inconclusive, "%s could not list %s: %v", viewer.name, what, err)
		return
	}
	if visible(rows, marker) {
		f.mark(Leak, "%s can see %s", viewer.name, what)
	}
}

// present is the positive control: the owner must see its own marker.
func present[T any](f *Finding, viewer *account, what, marker string, rows []T, err error) {
	if err != nil {
		f.mark(Inconclusive, "%s could not list %s: %v", viewer.name, what, err)
		return
	}
	if !visible(rows, marker) {
		f.mark(Inconclusive, "%s cannot see its own %s", viewer.name, what)
	}
}

// refused checks that a cross-tenant write failed.
func refused(f *Finding, what string, err error) {
	switch {
	case err == nil:
		f.mark(Forged, "%s succeeded", what)
	case unavailable(err):
		f.mark(Inconclusive, "%s: %v", what, err)
	}
}

func probeClientsRead(ctx context.Context, h *Harness, _ *fixtures, f *Finding) {
	coachA := h.coachA
	marker := h.marker("COACH A CONFIDENTIAL CLIENT")
	row, err := coachA.tenant.CreateClient(ctx, gateway.NewClient{FullName: marker, Notes: marker})
	if err != nil {
		f.mark(Inconclusive, "coach-a could not create marker client: %v", err)
		return
	}
	h.later("coach-a delete marker client", func(ctx context.Context) error {
		return coachA.tenant.DeleteClient(ctx, row.ID)
	})

	rows, err := coachA.tenant.ListClients(ctx)
	present(f, coachA, "marker client", marker, rows, err)

	for _, viewer := range []*account{h.coachB, h.clientB, h.clientA} {
		rows, err := viewer.tenant.ListClients(ctx)
		absent(f, viewer, "coach-a's client", marker, rows, err)
	}

	got, err := h.coachB.tenant.GetClient(ctx, row.ID)
	switch {
	case err == nil:
		f.mark(Leak, "coach-b fetched coach-a's client by id (%s)", got.ID)
	case !errors.Is(err, gateway.ErrNotFound):
		f.mark(Inconclusive, "coach-b get by id: %v", err)
	}
}

func probeClientsWrite(ctx context.Context, h *Harness, _ *fixtures, f *Finding) {
	coachA, coachB := h.coachA, h.coachB

	forgedName := h.marker("forged coach reference")
	out, err := coachB.tenant.CreateClient(ctx, gateway.NewClient{
		FullName:  forgedName,
		CoachID:   coachA.id(),
		CreatedBy: coachA.id(),
	})
	switch {
	case err != nil:
		if unavailable(err) {
			f.mark(Inconclusive, "coach-b create: %v", err)
		}
	default:
		h.later("coach-b delete forged client", func(ctx context.Context) error {
			return coachB.tenant.DeleteClient(ctx, out.ID)
		})
		if out.CoachID != coachB.id() {
			f.mark(Forged, "coach-b created a client managed by %q", out.CoachID)
		}
		if out.CreatedBy != coachB.id() {
			f.mark(Forged, "coach-b created a client authored by %q", out.CreatedBy)
		}
		rows, err := coachA.tenant.ListClients(ctx)
		absent(f, coachA, "coach-b's forged client", forgedName, rows, err)
	}

	targetNotes := h.marker("coach-a notes")
	target, err := coachA.tenant.CreateClient(ctx, gateway.NewClient{
		FullName: h.marker("coach-a write target"),
		Notes:    targetNotes,
	})
	if err != nil {
		f.mark(Inconclusive, "coach-a could not create target client: %v", err)
		return
	}
	h.later("coach-a delete target client", func(ctx context.Context) error {
		return coachA.tenant.DeleteClient(ctx, target.ID)
	})

	_, err = coachB.tenant.UpdateClientNotes(ctx, target.ID, h.marker("overwritten by coach-b"))
	refused(f, "coach-b update of coach-a's client", err)
	err = coachB.tenant.DeleteClient(ctx, target.ID)
	refused(f, "coach-b delete of coach-a's client", err)

	after, err := coachA.tenant.GetClient(ctx, target.ID)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		f.mark(Forged, "coach-a's client disappeared")
	case err != nil:
		f.mark(Inconclusive, "coach-a reread target: %v", err)
	case after.Notes != targetNotes:
		f.mark(Forged, "coach-a's client notes changed to %q", after.Notes)
	}
}

func probeMessagesRead(ctx context.Context, h *Harness, _ *fixtures, f *Finding) {
	clientA := h.clientA
	marker := h.marker("CLIENT A PRIVATE MESSAGE")
	msg, err := clientA.tenant.SendMessage(ctx, gateway.NewMessage{RecipientID: h.coachA.id(), Body: marker})
	if err != nil {
		f.mark(Inconclusive, "client-a could not message coach-a: %v", err)
		return
	}
	h.later("client-a delete marker message", func(ctx context.Context) error {
		return clientA.tenant.DeleteMessage(ctx, msg.ID)
	})

	rows, err := h.coachA.tenant.ListMessages(ctx)
	present(f, h.coachA, "client-a's message", marker, rows, err)

	for _, viewer := range []*account{h.clientB, h.coachB} {
		rows, err := viewer.tenant.ListMessages(ctx)
		absent(f, viewer, "client-a's message", marker, rows, err)
	}

	_, err = h.clientB.tenant.MarkMessageRead(ctx, msg.ID)
	refused(f, "client-b marking client-a's message read", err)
	err = h.coachB.tenant.DeleteMessage(ctx, msg.ID)
	refused(f, "coach-b delete of client-a's message", err)
}

func probeMessagesWrite(ctx context.Context, h *Harness, _ *fixtures, f *Finding) {
	clientB := h.clientB

	// No relationship exists between client-b and coach-a.
	body := h.marker("forged message to coach-a")
	msg, err := clientB.tenant.SendMessage(ctx, gateway.NewMessage{
		RecipientID: h.coachA.id(),
		Body:        body,
		SenderID:    h.clientA.id(),
	})
	refused(f, "client-b message to coach-a", err)
	if err == nil {
		id := msg.ID
		h.later("client-b delete forged message", func(ctx context.Context) error {
			return clientB.tenant.DeleteMessage(ctx, id)
		})
	}

	// Legitimate recipient, forged sender: the sender must be rewritten.
	body = h.marker("sender check")
	msg, err = clientB.tenant.SendMessage(ctx, gateway.NewMessage{
		RecipientID: h.coachB.id(),
		Body:        body,
		SenderID:    h.clientA.id(),
	})
	if err != nil {
		if !errors.Is(err, gateway.ErrWriteDenied) {
			f.mark(Inconclusive, "client-b message to coach-b: %v", err)
		}
		return
	}
	h.later("client-b delete sender check message", func(ctx context.Context) error {
		return clientB.tenant.DeleteMessage(ctx, msg.ID)
	})
	if msg.SenderID != clientB.id() {
		f.mark(Forged, "message stored with sender %q", msg.SenderID)
	}
	rows, err := h.clientA.tenant.ListMessages(ctx)
	absent(f, h.clientA, "client-b's message", body, rows, err)
}

func probeIntegrationsRead(ctx context.Context, h *Harness, _ *fixtures, f *Finding) {
	clientA := h.clientA
	provider := "isolation-" + h.tag
	token := h.marker("CLIENT-A-DEVICE-TOKEN")
	if _, err := clientA.tenant.UpsertIntegration(ctx, gateway.NewIntegration{Provider: provider, AccessToken: token}); err != nil {
		f.mark(Inconclusive, "client-a could not store integration: %v", err)
		return
	}
	h.later("client-a delete marker integration", func(ctx context.Context) error {
		return clientA.tenant.DeleteIntegration(ctx, provider)
	})

	rows, err := clientA.tenant.ListIntegrations(ctx)
	present(f, clientA, "integration token", token, rows, err)

	for _, viewer := range []*account{h.clientB, h.coachA, h.coachB} {
		rows, err := viewer.tenant.ListIntegrations(ctx)
		absent(f, viewer, "client-a's integration token", token, rows, err)
	}
}

func probeIntegrationsWrite(ctx context.Context, h *Harness, _ *fixtures, f *Finding) {
	clientA, clientB := h.clientA, h.clientB
	provider := "isolation-w-" + h.tag
	token := h.marker("client-a write target token")
	if _, err := clientA.tenant.UpsertIntegration(ctx, gateway.NewIntegration{Provider: provider, AccessToken: token}); err != nil {
		f.mark(Inconclusive, "client-a could not store integration: %v", err)
		return
	}
	h.later("client-a delete target integration", func(ctx context.Context) error {
		return clientA.tenant.DeleteIntegration(ctx, provider)
	})

	forged := h.marker("forged token")
	out, err := clientB.tenant.UpsertIntegration(ctx, gateway.NewIntegration{
		Provider:    provider,
		AccessToken: forged,
		UserID:      clientA.id(),
	})
	switch {
	case err != nil:
		if unavailable(err) {
			f.mark(Inconclusive, "client-b upsert: %v", err)
		}
	case out.UserID != clientB.id():
		f.mark(Forged, "client-b stored an integration owned by %q", out.UserID)
	default:
		// client-b now owns a row for the same provider; removing it must not touch client-a's.
		if err := clientB.tenant.DeleteIntegration(ctx, provider); err != nil {
			f.mark(Inconclusive, "client-b delete own integration: %v", err)
		}
	}

	rows, err := clientA.tenant.ListIntegrations(ctx)
	if err != nil {
		f.mark(Inconclusive, "client-a list integrations: %v", err)
		return
	}
	var found bool
	for _, in := range rows {
		if in.Provider != provider {
			continue
		}
		found = true
		if in.AccessToken != token {
			f.mark(Forged, "client-a's token was replaced")
		}
	}
	if !found {
		f.mark(Forged, "client-a's integration is gone")
	}
}

func probeWeightLogsRead(ctx context.Context, h *Harness, _ *fixtures, f *Finding) {
	clientA := h.clientA
	note := h.marker("CLIENT A WEIGHT")
	wl, err := clientA.tenant.CreateWeightLog(ctx, gateway.NewWeightLog{WeightKg: 72.5, Note: note})
	if err != nil {
		f.mark(Inconclusive, "client-a could not log weight: %v", err)
		return
	}
	h.later("client-a delete marker weight log", func(ctx context.Context) error {
		return clientA.tenant.DeleteWeightLog(ctx, wl.ID)
	})
	if wl.CoachID != h.coachA.id() {
		f.mark(Inconclusive, "weight log managed by %q, want coach-a", wl.CoachID)
	}

	rows, err := h.coachA.tenant.ListWeightLogs(ctx)
	present(f, h.coachA, "client-a's weight log", note, rows, err)

	for _, viewer := range []*account{h.clientB, h.coachB} {
		rows, err := viewer.tenant.ListWeightLogs(ctx)
		absent(f, viewer, "client-a's weight log", note, rows, err)
	}
}

func probeWeightLogsWrite(ctx context.Context, h *Harness, _ *fixtures, f *Finding) {
	clientA, clientB := h.clientA, h.clientB

	target, err := clientA.tenant.CreateWeightLog(ctx, gateway.NewWeightLog{WeightKg: 70, Note: h.marker("client-a target weight")})
	if err != nil {
		f.mark(Inconclusive, "client-a could not log weight: %v", err)
		return
	}
	h.later("client-a delete target weight log", func(ctx context.Context) error {
		return clientA.tenant.DeleteWeightLog(ctx, target.ID)
	})
	err = clientB.tenant.DeleteWeightLog(ctx, target.ID)
	refused(f, "client-b delete of client-a's weight log", err)

	note := h.marker("forged weight")
	out, err := clientB.tenant.CreateWeightLog(ctx, gateway.NewWeightLog{
		WeightKg:  80,
		Note:      note,
		UserID:    clientA.id(),
		CoachID:   h.coachA.id(),
		CreatedBy: clientA.id(),
	})
	if err != nil {
		if unavailable(err) {
			f.mark(Inconclusive, "client-b log weight: %v", err)
		}
		return
	}
	h.later("client-b delete forged weight log", func(ctx context.Context) error {
		return clientB.tenant.DeleteWeightLog(ctx, out.ID)
	})
	if out.UserID != clientB.id() || out.CreatedBy != clientB.id() {
		f.mark(Forged, "weight log stored for %q by %q", out.UserID, out.CreatedBy)
	}
	if out.CoachID == h.coachA.id() {
		f.mark(Forged, "weight log attached to coach-a")
	}
	for _, viewer := range []*account{clientA, h.coachA} {
		rows, err := viewer.tenant.ListWeightLogs(ctx)
		absent(f, viewer, "client-b's forged weight log", note, rows, err)
	}
}

func probeWorkoutsRead(ctx context.Context, h *Harness, fx *fixtures, f *Finding) {
	coachA := h.coachA
	title := h.marker("COACH A WORKOUT")
	w, err := coachA.tenant.AssignWorkout(ctx, gateway.NewWorkoutAssignment{
		ClientID:     fx.profileA.ID,
		Title:        title,
		ScheduledFor: today(),
	})
	if err != nil {
		f.mark(Inconclusive, "coach-a could not assign workout: %v", err)
		return
	}
	h.later("coach-a delete marker workout", func(ctx context.Context) error {
		return coachA.tenant.DeleteWorkoutAssignment(ctx, w.ID)
	})

	rows, err := h.clientA.tenant.ListWorkoutAssignments(ctx)
	present(f, h.clientA, "assigned workout", title, rows, err)

	for _, viewer := range []*account{h.coachB, h.clientB} {
		rows, err := viewer.tenant.ListWorkoutAssignments(ctx)
		absent(f, viewer, "coach-a's workout", title, rows, err)
	}
}

func probeWorkoutsWrite(ctx context.Context, h *Harness, fx *fixtures, f *Finding) {
	coachB := h.coachB
	title := h.marker("forged workout")
	w, err := coachB.tenant.AssignWorkout(ctx, gateway.NewWorkoutAssignment{
		ClientID:     fx.profileA.ID,
		Title:        title,
		ScheduledFor: today(),
		CoachID:      h.coachA.id(),
		AssignedBy:   h.coachA.id(),
	})
	refused(f, "coach-b assigning a workout to coach-a's client", err)
	if err == nil {
		h.later("coach-b delete forged workout", func(ctx context.Context) error {
			return coachB.tenant.DeleteWorkoutAssignment(ctx, w.ID)
		})
	}
	rows, err := h.clientA.tenant.ListWorkoutAssignments(ctx)
	absent(f, h.clientA, "coach-b's forged workout", title, rows, err)
}

// probeCredentials opens gateways with credentials that must all be refused.
func probeCredentials(ctx context.Context, h *Harness, _ *fixtures, f *Finding) {
	creds := []struct {
		name string
		cred identity.Credential
	}{
		{"invalid bearer token", identity.BearerToken("invalid-token")},
		{"empty bearer token", identity.BearerToken("")},
		{"tampered bearer token", identity.BearerToken(h.coachA.token + "x")},
		{"unknown session", identity.Session("isolation-" + h.tag)},
		{"no credential", nil},
	}
	for _, c := range creds {
		t, err := h.cfg.Connect(ctx, c.cred)
		switch {
		case err == nil:
			who := "nobody"
			if t != nil {
				who = t.Caller().ID
			}
			f.mark(Leak, "%s accepted as %q", c.name, who)
		case !errors.Is(err, identity.ErrUnauthenticated):
			f.mark(Inconclusive, "%s: %v", c.name, err)
		}
	}
}

// probeProvenance submits a client profile authored by someone else.
func probeProvenance(ctx context.Context, h *Harness, _ *fixtures, f *Finding) {
	clientA := h.clientA
	name := h.marker("provenance check")
	out, err := clientA.tenant.CreateClient(ctx, gateway.NewClient{
		FullName:  name,
		CreatedBy: h.coachB.id(),
		CoachID:   h.coachB.id(),
	})
	if err != nil {
		f.mark(Inconclusive, "client-a could not create own profile: %v", err)
		return
	}
	h.later("client-a delete provenance profile", func(ctx context.Context) error {
		return clientA.tenant.DeleteClient(ctx, out.ID)
	})
	if out.CreatedBy != clientA.id() {
		f.mark(Forged, "created_by returned as %q", out.CreatedBy)
	}
	if out.CoachID == h.coachB.id() {
		f.mark(Forged, "profile attached to coach-b")
	}

	stored, err := clientA.tenant.GetClient(ctx, out.ID)
	switch {
	case err != nil:
		f.mark(Inconclusive, "client-a reread profile: %v", err)
	case stored.CreatedBy != clientA.id():
		f.mark(Forged, "created_by persisted as %q", stored.CreatedBy)
	}

	rows, err := h.coachB.tenant.ListClients(ctx)
	absent(f, h.coachB, "client-a's own profile", name, rows, err)
}
