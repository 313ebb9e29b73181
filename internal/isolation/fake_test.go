package isolation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"coachlink.app/internal/gateway"
	"coachlink.app/internal/identity"
)

// world is an in-memory store that applies the same row rules as the policy
// set. Its switches break one rule at a time.
type world struct {
	mu sync.Mutex

	users     map[string]identity.ProviderUser // by email
	passwords map[string]string
	tokens    map[string]identity.Caller
	signUps   int
	signIns   int

	clients      map[string]gateway.Client
	messages     map[string]gateway.Message
	integrations map[string]gateway.Integration
	weights      map[string]gateway.WeightLog
	workouts     map[string]gateway.WorkoutAssignment
	seq          int

	leak            string // resource whose list ignores the caller
	trustProvenance bool   // inserts keep client-supplied owner columns
	failOpen        bool   // connector accepts any credential
	denyCreate      string // resource whose inserts always fail
	signUpErr       error
}

func newWorld() *world {
	return &world{
		users:        map[string]identity.ProviderUser{},
		passwords:    map[string]string{},
		tokens:       map[string]identity.Caller{},
		clients:      map[string]gateway.Client{},
		messages:     map[string]gateway.Message{},
		integrations: map[string]gateway.Integration{},
		weights:      map[string]gateway.WeightLog{},
		workouts:     map[string]gateway.WorkoutAssignment{},
	}
}

func (w *world) rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients) + len(w.messages) + len(w.integrations) + len(w.weights) + len(w.workouts)
}

func (w *world) nextID(prefix string) string {
	w.seq++
	return fmt.Sprintf("%s-%d", prefix, w.seq)
}

func (w *world) session(u identity.ProviderUser) identity.AuthResult {
	w.seq++
	tok := fmt.Sprintf("token-%s-%d", u.ID, w.seq)
	w.tokens[tok] = identity.Caller{ID: u.ID, Role: identity.Role(u.AppMetadata.Role), Email: u.Email}
	return identity.AuthResult{AccessToken: tok, TokenType: "bearer", ExpiresIn: 3600, User: u}
}

func (w *world) SignUp(_ context.Context, email, password string, role identity.Role) (identity.AuthResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.signUps++
	if w.signUpErr != nil {
		return identity.AuthResult{}, w.signUpErr
	}
	if _, ok := w.users[email]; ok {
		return identity.AuthResult{}, identity.ErrAlreadyRegistered
	}
	u := identity.ProviderUser{ID: "user-" + email, Email: email, AppMetadata: identity.AppMetadata{Role: string(role)}}
	w.users[email] = u
	w.passwords[email] = password
	return w.session(u), nil
}

func (w *world) SignIn(_ context.Context, email, password string) (identity.AuthResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.signIns++
	u, ok := w.users[email]
	if !ok || w.passwords[email] != password {
		return identity.AuthResult{}, fmt.Errorf("%w: bad login", identity.ErrUnauthenticated)
	}
	return w.session(u), nil
}

func (w *world) connect(_ context.Context, cred identity.Credential) (Tenant, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failOpen {
		return &tenant{w: w, c: identity.Caller{ID: "anonymous", Role: identity.RoleClient}}, nil
	}
	tok, ok := cred.(identity.BearerToken)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported credential", identity.ErrUnauthenticated)
	}
	c, ok := w.tokens[string(tok)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", identity.ErrUnauthenticated)
	}
	return &tenant{w: w, c: c}, nil
}

func (w *world) LinkClientAccount(_ context.Context, clientID, userID string) (gateway.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.clients[clientID]
	if !ok {
		return gateway.Client{}, gateway.ErrNotFound
	}
	c.UserID = userID
	w.clients[clientID] = c
	return c, nil
}

type tenant struct {
	w *world
	c identity.Caller
}

func (t *tenant) Caller() identity.Caller { return t.c }

func (t *tenant) uid() string { return t.c.ID }

func sorted[T any](m map[string]T, keep func(T) bool) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []T
	for _, k := range keys {
		if keep(m[k]) {
			out = append(out, m[k])
		}
	}
	return out
}

func (t *tenant) canSeeClient(c gateway.Client) bool {
	return t.w.leak == "clients" || c.CoachID == t.uid() || c.UserID == t.uid()
}

func (t *tenant) ListClients(context.Context) ([]gateway.Client, error) {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	return sorted(t.w.clients, t.canSeeClient), nil
}

func (t *tenant) GetClient(_ context.Context, id string) (gateway.Client, error) {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	c, ok := t.w.clients[id]
	if !ok || !(c.CoachID == t.uid() || c.UserID == t.uid()) {
		return gateway.Client{}, gateway.ErrNotFound
	}
	return c, nil
}

func (t *tenant) CreateClient(_ context.Context, in gateway.NewClient) (gateway.Client, error) {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	if t.w.denyCreate == "clients" {
		return gateway.Client{}, gateway.ErrWriteDenied
	}
	if !t.w.trustProvenance {
		in.StampProvenance(t.c)
		if in.CreatedBy != t.uid() {
			return gateway.Client{}, gateway.ErrWriteDenied
		}
	} else if in.CreatedBy == "" {
		in.CreatedBy = t.uid()
		if in.CoachID == "" && t.c.Role == identity.RoleCoach {
			in.CoachID = t.uid()
		}
	}
	c := gateway.Client{
		ID:        t.w.nextID("client"),
		CoachID:   in.CoachID,
		UserID:    in.UserID,
		CreatedBy: in.CreatedBy,
		FullName:  in.FullName,
		Email:     in.Email,
		Notes:     in.Notes,
	}
	t.w.clients[c.ID] = c
	return c, nil
}

func (t *tenant) UpdateClientNotes(_ context.Context, id, notes string) (gateway.Client, error) {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	c, ok := t.w.clients[id]
	if !ok || c.CoachID != t.uid() {
		return gateway.Client{}, gateway.ErrNotFound
	}
	c.Notes = notes
	t.w.clients[id] = c
	return c, nil
}

func (t *tenant) DeleteClient(_ context.Context, id string) error {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	c, ok := t.w.clients[id]
	if !ok || !(c.CoachID == t.uid() || (c.CoachID == "" && c.UserID == t.uid())) {
		return gateway.ErrNotFound
	}
	delete(t.w.clients, id)
	for wid, wa := range t.w.workouts {
		if wa.ClientID == id {
			delete(t.w.workouts, wid)
		}
	}
	return nil
}

func (t *tenant) related(other string) bool {
	for _, c := range t.w.clients {
		if (c.CoachID == t.uid() && c.UserID == other) || (c.UserID == t.uid() && c.CoachID == other) {
			return true
		}
	}
	return false
}

func (t *tenant) ListMessages(context.Context) ([]gateway.Message, error) {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	return sorted(t.w.messages, func(m gateway.Message) bool {
		return t.w.leak == "messages" || m.SenderID == t.uid() || m.RecipientID == t.uid()
	}), nil
}

func (t *tenant) SendMessage(_ context.Context, in gateway.NewMessage) (gateway.Message, error) {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	if t.w.denyCreate == "messages" {
		return gateway.Message{}, gateway.ErrWriteDenied
	}
	if !t.w.trustProvenance {
		in.StampProvenance(t.c)
	}
	if !t.related(in.RecipientID) {
		return gateway.Message{}, gateway.ErrWriteDenied
	}
	m := gateway.Message{ID: t.w.nextID("msg"), SenderID: in.SenderID, RecipientID: in.RecipientID, Body: in.Body}
	t.w.messages[m.ID] = m
	return m, nil
}

func (t *tenant) MarkMessageRead(_ context.Context, id string) (gateway.Message, error) {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	m, ok := t.w.messages[id]
	if !ok || m.RecipientID != t.uid() {
		return gateway.Message{}, gateway.ErrNotFound
	}
	return m, nil
}

func (t *tenant) DeleteMessage(_ context.Context, id string) error {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	m, ok := t.w.messages[id]
	if !ok || m.SenderID != t.uid() {
		return gateway.ErrNotFound
	}
	delete(t.w.messages, id)
	return nil
}

func (t *tenant) ListIntegrations(context.Context) ([]gateway.Integration, error) {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	return sorted(t.w.integrations, func(in gateway.Integration) bool {
		return t.w.leak == "device_integrations" || in.UserID == t.uid()
	}), nil
}

func (t *tenant) UpsertIntegration(_ context.Context, in gateway.NewIntegration) (gateway.Integration, error) {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	if t.w.denyCreate == "device_integrations" {
		return gateway.Integration{}, gateway.ErrWriteDenied
	}
	if !t.w.trustProvenance {
		in.StampProvenance(t.c)
	}
	key := in.UserID + "/" + in.Provider
	out := gateway.Integration{ID: key, UserID: in.UserID, Provider: in.Provider, AccessToken: in.AccessToken}
	t.w.integrations[key] = out
	return out, nil
}

func (t *tenant) DeleteIntegration(_ context.Context, provider string) error {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	key := t.uid() + "/" + provider
	if _, ok := t.w.integrations[key]; !ok {
		return gateway.ErrNotFound
	}
	delete(t.w.integrations, key)
	return nil
}

func (t *tenant) ListWeightLogs(context.Context) ([]gateway.WeightLog, error) {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	return sorted(t.w.weights, func(l gateway.WeightLog) bool {
		return t.w.leak == "weight_logs" || l.UserID == t.uid() || l.CoachID == t.uid()
	}), nil
}

func (t *tenant) CreateWeightLog(_ context.Context, in gateway.NewWeightLog) (gateway.WeightLog, error) {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	if t.w.denyCreate == "weight_logs" {
		return gateway.WeightLog{}, gateway.ErrWriteDenied
	}
	if !t.w.trustProvenance {
		in.StampProvenance(t.c)
		for _, c := range sorted(t.w.clients, func(c gateway.Client) bool { return c.UserID == t.uid() && c.CoachID != "" }) {
			in.CoachID = c.CoachID
			break
		}
	}
	l := gateway.WeightLog{
		ID:        t.w.nextID("weight"),
		UserID:    in.UserID,
		CoachID:   in.CoachID,
		CreatedBy: in.CreatedBy,
		WeightKg:  in.WeightKg,
		Note:      in.Note,
	}
	t.w.weights[l.ID] = l
	return l, nil
}

func (t *tenant) DeleteWeightLog(_ context.Context, id string) error {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	l, ok := t.w.weights[id]
	if !ok || l.UserID != t.uid() {
		return gateway.ErrNotFound
	}
	delete(t.w.weights, id)
	return nil
}

func (t *tenant) ListWorkoutAssignments(context.Context) ([]gateway.WorkoutAssignment, error) {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	return sorted(t.w.workouts, func(wa gateway.WorkoutAssignment) bool {
		return t.w.leak == "workout_assignments" || wa.CoachID == t.uid() || t.w.clients[wa.ClientID].UserID == t.uid()
	}), nil
}

func (t *tenant) AssignWorkout(_ context.Context, in gateway.NewWorkoutAssignment) (gateway.WorkoutAssignment, error) {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	if t.w.denyCreate == "workout_assignments" {
		return gateway.WorkoutAssignment{}, gateway.ErrWriteDenied
	}
	if !t.w.trustProvenance {
		in.StampProvenance(t.c)
		if t.w.clients[in.ClientID].CoachID != t.uid() {
			return gateway.WorkoutAssignment{}, gateway.ErrWriteDenied
		}
	}
	wa := gateway.WorkoutAssignment{
		ID:           t.w.nextID("workout"),
		ClientID:     in.ClientID,
		CoachID:      in.CoachID,
		AssignedBy:   in.AssignedBy,
		Title:        in.Title,
		ScheduledFor: in.ScheduledFor,
	}
	t.w.workouts[wa.ID] = wa
	return wa, nil
}

func (t *tenant) DeleteWorkoutAssignment(_ context.Context, id string) error {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	wa, ok := t.w.workouts[id]
	if !ok || wa.CoachID != t.uid() {
		return gateway.ErrNotFound
	}
	delete(t.w.workouts, id)
	return nil
}
