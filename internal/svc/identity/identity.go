package identity

import (
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v4"
)

// Instance tracks the currently authenticated user identity and publishes
// identity-change events to subscribers.
type Instance interface {
	// CurrentUserID returns the authenticated user ID, or "" when signed out.
	CurrentUserID() string
	// Authenticate verifies a signed token, makes its subject the current
	// identity and emits a change event.
	Authenticate(token string) (string, error)
	// Clear signs the current identity out and emits a change event.
	Clear()
	// Subscribe returns a stream of identity changes and a cancel function.
	Subscribe() (<-chan Change, func())

	SignJWT(claims jwt.Claims) (string, error)
	VerifyJWT(token string, out jwt.Claims) (*jwt.Token, error)
}

// Change carries the identity after a change event. UserID is "" when the
// identity was cleared.
type Change struct {
	UserID string
}

type Claims struct {
	jwt.RegisteredClaims

	UserID string `json:"u_id"`
}

type Options struct {
	JWTSecret string
}

type inst struct {
	secret string

	mx      sync.Mutex
	current string
	subs    map[int]chan Change
	nextSub int
}

func New(opt Options) Instance {
	return &inst{
		secret: opt.JWTSecret,
		subs:   map[int]chan Change{},
	}
}

func (i *inst) CurrentUserID() string {
	i.mx.Lock()
	defer i.mx.Unlock()

	return i.current
}

func (i *inst) Authenticate(token string) (string, error) {
	claims := Claims{}

	if _, err := i.VerifyJWT(token, &claims); err != nil {
		return "", err
	}

	if claims.UserID == "" {
		return "", fmt.Errorf("token carries no user id")
	}

	i.set(claims.UserID)

	return claims.UserID, nil
}

func (i *inst) Clear() {
	i.set("")
}

func (i *inst) set(userID string) {
	i.mx.Lock()
	defer i.mx.Unlock()

	i.current = userID

	for _, ch := range i.subs {
		select {
		case ch <- Change{UserID: userID}:
		default:
		}
	}
}

func (i *inst) Subscribe() (<-chan Change, func()) {
	i.mx.Lock()
	defer i.mx.Unlock()

	id := i.nextSub
	i.nextSub++

	ch := make(chan Change, 16)
	i.subs[id] = ch

	return ch, func() {
		i.mx.Lock()
		defer i.mx.Unlock()

		if _, ok := i.subs[id]; ok {
			delete(i.subs, id)
			close(ch)
		}
	}
}

func (i *inst) SignJWT(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString([]byte(i.secret))
}

func (i *inst) VerifyJWT(token string, out jwt.Claims) (*jwt.Token, error) {
	return jwt.ParseWithClaims(token, out, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}

		return []byte(i.secret), nil
	})
}
