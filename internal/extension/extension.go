package extension

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrExtensionExists = errors.New("extension: already registered")
	ErrExtensionNil    = errors.New("extension: nil extension")
	ErrUnknown         = errors.New("extension: not registered")
)

// Extension is the lifecycle a host drives.
type Extension interface {
	Name() string
	Init() error
	Enable() error
	Disable() error
	Destroy()
}

// Host owns registered extensions. It replaces a process-wide registry: every
// caller that needs an extension holds the Host that registered it.
type Host struct {
	readOnly bool

	mu         sync.RWMutex
	extensions map[string]Extension
	order      []string
}

// NewHost constructs a host. A read-only host registers extensions but never
// initializes or enables them.
func NewHost(readOnly bool) *Host {
	return &Host{
		readOnly:   readOnly,
		extensions: map[string]Extension{},
	}
}

func (h *Host) ReadOnly() bool {
	return h.readOnly
}

func (h *Host) Register(ext Extension) error {
	if ext == nil {
		return ErrExtensionNil
	}
	name := strings.TrimSpace(ext.Name())
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.extensions[name]; ok {
		return fmt.Errorf("%w: %s", ErrExtensionExists, name)
	}
	h.extensions[name] = ext
	h.order = append(h.order, name)
	return nil
}

func (h *Host) Get(name string) (Extension, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ext, ok := h.extensions[strings.TrimSpace(name)]
	return ext, ok
}

// Names returns registered extension names sorted.
func (h *Host) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := append([]string(nil), h.order...)
	sort.Strings(out)
	return out
}

// Hook initializes and enables name. A read-only host leaves it untouched.
func (h *Host) Hook(name string) error {
	ext, ok := h.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	if h.readOnly {
		log.Info().Msgf("extension.Host.Hook skip name=%q reason=read_only", name)
		return nil
	}
	if err := ext.Init(); err != nil {
		return err
	}
	if err := ext.Enable(); err != nil {
		return err
	}
	log.Info().Msgf("extension.Host.Hook enabled name=%q", name)
	return nil
}

// Shutdown destroys every extension in reverse registration order.
func (h *Host) Shutdown() {
	h.mu.Lock()
	order := append([]string(nil), h.order...)
	exts := h.extensions
	h.extensions = map[string]Extension{}
	h.order = nil
	h.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		exts[order[i]].Destroy()
	}
	log.Info().Msgf("extension.Host.Shutdown destroyed=%d", len(order))
}
