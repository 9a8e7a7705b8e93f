package authreducer_test

import (
	"context"
	"sync"
	"time"

	"github.com/aelexs/authcore/internal/authreducer"
	"github.com/aelexs/authcore/internal/domain"
	"github.com/aelexs/authcore/internal/effect"
)

// fakeClock is a mutable, test-controlled domain.Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeTokenStore is an in-memory tokenstore.Store double with the same
// consume semantics as the real RedisStore: a wrong secret leaves the record
// untouched, an expired record is deleted, and both collapse to
// domain.ErrAuthenticationFailed; a matching secret atomically removes the
// record.
type fakeTokenStore struct {
	mu     sync.Mutex
	clock  *fakeClock
	tokens map[string]domain.Token
}

func newFakeTokenStore(clock *fakeClock) *fakeTokenStore {
	return &fakeTokenStore{clock: clock, tokens: make(map[string]domain.Token)}
}

func (s *fakeTokenStore) Store(ctx context.Context, token domain.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.TokenID.String()] = token
	return nil
}

func (s *fakeTokenStore) Consume(ctx context.Context, id domain.TokenID, secret string) (domain.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[id.String()]
	if !ok {
		return domain.Token{}, domain.ErrAuthenticationFailed
	}
	if !tok.ExpiresAt.After(s.clock.Now()) {
		delete(s.tokens, id.String())
		return domain.Token{}, domain.ErrAuthenticationFailed
	}
	if tok.Secret != secret {
		return domain.Token{}, domain.ErrAuthenticationFailed
	}
	delete(s.tokens, id.String())
	return tok, nil
}

func (s *fakeTokenStore) Delete(ctx context.Context, id domain.TokenID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, id.String())
	return nil
}

func (s *fakeTokenStore) Exists(ctx context.Context, id domain.TokenID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[id.String()]
	return ok, nil
}

// fakeSessionStore is an in-memory sessionstore.Store double.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]domain.Session)}
}

func (s *fakeSessionStore) Create(ctx context.Context, session domain.Session, ttl time.Duration, maxConcurrent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.SessionID.String()]; exists {
		return domain.ErrSessionFixation
	}
	s.sessions[session.SessionID.String()] = session
	return nil
}

func (s *fakeSessionStore) Get(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id.String()]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return sess, nil
}

func (s *fakeSessionStore) Update(ctx context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID.String()] = session
	return nil
}

func (s *fakeSessionStore) Delete(ctx context.Context, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id.String())
	return nil
}

func (s *fakeSessionStore) DeleteUserSessions(ctx context.Context, userID domain.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, v := range s.sessions {
		if v.UserID == userID {
			delete(s.sessions, k)
			n++
		}
	}
	return n, nil
}

func (s *fakeSessionStore) Rotate(ctx context.Context, oldID domain.SessionID) (domain.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[oldID.String()]
	if !ok {
		return domain.SessionID{}, domain.ErrSessionNotFound
	}
	delete(s.sessions, oldID.String())
	sess.SessionID = domain.GenerateSessionID()
	s.sessions[sess.SessionID.String()] = sess
	return sess.SessionID, nil
}

func (s *fakeSessionStore) GetUserSessions(ctx context.Context, userID domain.UserID) ([]domain.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []domain.SessionID
	for _, v := range s.sessions {
		if v.UserID == userID {
			ids = append(ids, v.SessionID)
		}
	}
	return ids, nil
}

func (s *fakeSessionStore) Exists(ctx context.Context, id domain.SessionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id.String()]
	return ok, nil
}

func (s *fakeSessionStore) GetTTL(ctx context.Context, id domain.SessionID) (time.Duration, error) {
	return 0, nil
}

func (s *fakeSessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// fakeUserLookup resolves users registered via registerUser.
type fakeUserLookup struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newFakeUserLookup() *fakeUserLookup {
	return &fakeUserLookup{users: make(map[string]domain.User)}
}

func (u *fakeUserLookup) registerUser(user domain.User) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users[user.Email] = user
}

func (u *fakeUserLookup) FindUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[email]
	return user, ok, nil
}

// fakePasskeyLookup is an in-memory authreducer.PasskeyCredentialLookup.
type fakePasskeyLookup struct {
	mu          sync.Mutex
	credentials map[string]domain.PasskeyCredential
}

func newFakePasskeyLookup() *fakePasskeyLookup {
	return &fakePasskeyLookup{credentials: make(map[string]domain.PasskeyCredential)}
}

func (p *fakePasskeyLookup) GetCredential(ctx context.Context, id domain.CredentialID) (domain.PasskeyCredential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cred, ok := p.credentials[id.String()]
	if !ok {
		return domain.PasskeyCredential{}, domain.ErrNotFound
	}
	return cred, nil
}

func (p *fakePasskeyLookup) RegisterCredential(ctx context.Context, cred domain.PasskeyCredential) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.credentials[cred.CredentialID.String()]; exists {
		return nil
	}
	p.credentials[cred.CredentialID.String()] = cred
	return nil
}

func (p *fakePasskeyLookup) CompareAndSwapCounter(ctx context.Context, id domain.CredentialID, newCounter uint32) (domain.CounterOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cred, ok := p.credentials[id.String()]
	if !ok {
		return domain.CounterRollback, domain.ErrNotFound
	}
	outcome := domain.ClassifyCounter(cred.Counter, newCounter)
	if outcome == domain.CounterAccepted {
		cred.Counter = newCounter
		p.credentials[id.String()] = cred
	}
	return outcome, nil
}

// fakeOAuthProvider never talks to a network; Exchange returns whatever was
// registered for a given code via setExchangeResult.
type fakeOAuthProvider struct {
	mu      sync.Mutex
	results map[string]authreducer.ProviderTokens
	errs    map[string]error
}

func newFakeOAuthProvider() *fakeOAuthProvider {
	return &fakeOAuthProvider{
		results: make(map[string]authreducer.ProviderTokens),
		errs:    make(map[string]error),
	}
}

func (p *fakeOAuthProvider) setExchangeResult(code string, tokens authreducer.ProviderTokens) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[code] = tokens
}

func (p *fakeOAuthProvider) setExchangeError(code string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[code] = err
}

func (p *fakeOAuthProvider) AuthorizationURL(provider, state string) (string, error) {
	return "https://provider.example.com/authorize?state=" + state, nil
}

func (p *fakeOAuthProvider) Exchange(ctx context.Context, provider, code string) (authreducer.ProviderTokens, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.errs[code]; ok {
		return authreducer.ProviderTokens{}, err
	}
	return p.results[code], nil
}

// fakeEmailSender records every magic-link send.
type fakeEmailSender struct {
	mu   sync.Mutex
	sent []string
}

func (e *fakeEmailSender) SendMagicLink(ctx context.Context, recipient, verifyURL string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, recipient)
	return nil
}

func (e *fakeEmailSender) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sent)
}

// fakeRiskCalculator always returns a fixed score.
type fakeRiskCalculator struct{ score float64 }

func (r fakeRiskCalculator) Score(ctx context.Context, userID domain.UserID, ip, userAgent string) (float64, error) {
	return r.score, nil
}

// fakeWebAuthnVerifier accepts every attestation/assertion and decodes it
// as "credentialID|" followed by a little-endian uint32 counter in the last
// 4 bytes (see encodeAssertion) — it exists only to drive the reducer through
// VerifyAttestation/VerifyAssertion without a real WebAuthn crypto stack.
type fakeWebAuthnVerifier struct{}

func encodeAssertion(credentialID string, counter uint32) []byte {
	b := make([]byte, 4)
	b[0] = byte(counter)
	b[1] = byte(counter >> 8)
	b[2] = byte(counter >> 16)
	b[3] = byte(counter >> 24)
	return append([]byte(credentialID+"|"), b...)
}

func (fakeWebAuthnVerifier) VerifyAttestation(ctx context.Context, challenge string, attestation []byte, expectedOrigin, expectedRPID string) (authreducer.WebAuthnAttestationResult, error) {
	credID, counter := decodeAssertion(attestation)
	return authreducer.WebAuthnAttestationResult{
		CredentialID: credID,
		PublicKey:    []byte("public-key-" + credID),
		Counter:      counter,
	}, nil
}

func (fakeWebAuthnVerifier) VerifyAssertion(ctx context.Context, challenge string, assertion []byte, storedPublicKey []byte, expectedOrigin, expectedRPID string) (authreducer.WebAuthnAssertionResult, error) {
	credID, counter := decodeAssertion(assertion)
	return authreducer.WebAuthnAssertionResult{
		CredentialID: credID,
		Counter:      counter,
	}, nil
}

func decodeAssertion(b []byte) (string, uint32) {
	for i, c := range b {
		if c == '|' {
			rest := b[i+1:]
			counter := uint32(rest[0]) | uint32(rest[1])<<8 | uint32(rest[2])<<16 | uint32(rest[3])<<24
			return string(b[:i]), counter
		}
	}
	return "", 0
}

// fakeEventLog is an in-memory effect.EventLog double recording every
// appended stream in order, the way eventstore.Store would, minus
// persistence.
type fakeEventLog struct {
	mu      sync.Mutex
	streams map[string][]domain.Event
}

func newFakeEventLog() *fakeEventLog {
	return &fakeEventLog{streams: make(map[string][]domain.Event)}
}

func (l *fakeEventLog) AppendEvents(ctx context.Context, streamID string, expectedVersion *uint64, events []domain.Event) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range events {
		ev.Version = uint64(len(l.streams[streamID])) + 1
		l.streams[streamID] = append(l.streams[streamID], ev)
	}
	return uint64(len(l.streams[streamID])), nil
}

func (l *fakeEventLog) LoadEvents(ctx context.Context, streamID string, fromVersion *uint64) ([]domain.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Event(nil), l.streams[streamID]...), nil
}

func (l *fakeEventLog) SaveSnapshot(ctx context.Context, streamID string, version uint64, state []byte) error {
	return nil
}

func (l *fakeEventLog) LoadSnapshot(ctx context.Context, streamID string) (uint64, []byte, bool, error) {
	return 0, nil, false, nil
}

func (l *fakeEventLog) eventTypes(streamID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var types []string
	for _, ev := range l.streams[streamID] {
		types = append(types, ev.EventType)
	}
	return types
}

// testHarness drives Reduce/Executor to quiescence: dispatching an action
// runs it through Reduce, executes the resulting effect (which may
// synchronously dispatch further actions via the Future closures above),
// and keeps draining the queue until no action remains in flight. This
// mirrors what an outer port (HTTP handler, executor goroutine) does in
// production, minus the network hop.
type testHarness struct {
	mu    sync.Mutex
	queue []effect.Action

	state    authreducer.State
	env      *authreducer.Environment
	executor *effect.Executor
}

func newTestHarness(env *authreducer.Environment) *testHarness {
	h := &testHarness{env: env}
	h.executor = effect.NewExecutor(h.dispatch, env.EventLog, env.Publisher)
	return h
}

func (h *testHarness) dispatch(a effect.Action) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = append(h.queue, a)
}

func (h *testHarness) pop() (effect.Action, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return nil, false
	}
	a := h.queue[0]
	h.queue = h.queue[1:]
	return a, true
}

// drive dispatches the initial action and processes every follow-up action
// it (transitively) produces, in order, until the queue is empty.
func (h *testHarness) drive(ctx context.Context, action effect.Action) {
	h.dispatch(action)
	for {
		a, ok := h.pop()
		if !ok {
			return
		}
		next, eff := authreducer.Reduce(h.state, a, h.env)
		h.state = next
		_ = h.executor.Run(ctx, eff)
	}
}
