// Package security provides the machine identity used to bind and display
// licenses.
package security

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
)

// Sentinels substituted for identity parts that cannot be read.
const (
	UnknownMachine = "unknown-machine"
	UnknownMAC     = "unknown-mac"
	UnknownCPU     = "unknown-cpu"
)

// DefaultCacheDuration is how long a computed fingerprint is reused.
const DefaultCacheDuration = time.Hour

// MachineFingerprint is the derived identity of the current host.
type MachineFingerprint struct {
	MachineID   string    `json:"machine_id"`
	PlatformID  string    `json:"platform_id"`
	MACAddress  string    `json:"mac_address"`
	CPUModel    string    `json:"cpu_model"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Sources reads the raw identity parts. Nil fields use the host.
type Sources struct {
	PlatformID func(ctx context.Context) (string, error)
	Interfaces func() ([]net.Interface, error)
	CPUModel   func(ctx context.Context) (string, error)
}

// FingerprintManager derives and caches the machine identity.
type FingerprintManager struct {
	sources       Sources
	clock         quartz.Clock
	logger        *slog.Logger
	cacheDuration time.Duration

	cacheMutex  sync.RWMutex
	cache       *MachineFingerprint
	cacheExpiry time.Time
}

// FingerprintOption configures a FingerprintManager.
type FingerprintOption func(*FingerprintManager)

// WithSources overrides the identity sources.
func WithSources(s Sources) FingerprintOption {
	return func(fm *FingerprintManager) {
		if s.PlatformID != nil {
			fm.sources.PlatformID = s.PlatformID
		}
		if s.Interfaces != nil {
			fm.sources.Interfaces = s.Interfaces
		}
		if s.CPUModel != nil {
			fm.sources.CPUModel = s.CPUModel
		}
	}
}

// WithCacheDuration sets how long a fingerprint is reused. Zero disables caching.
func WithCacheDuration(d time.Duration) FingerprintOption {
	return func(fm *FingerprintManager) {
		fm.cacheDuration = d
	}
}

// WithClock sets the clock used for cache expiry.
func WithClock(clock quartz.Clock) FingerprintOption {
	return func(fm *FingerprintManager) {
		fm.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FingerprintOption {
	return func(fm *FingerprintManager) {
		fm.logger = logger
	}
}

// NewFingerprintManager creates a fingerprint manager reading the local host.
func NewFingerprintManager(opts ...FingerprintOption) *FingerprintManager {
	fm := &FingerprintManager{
		sources: Sources{
			PlatformID: host.HostIDWithContext,
			Interfaces: net.Interfaces,
			CPUModel:   hostCPUModel,
		},
		clock:         quartz.NewReal(),
		logger:        slog.Default(),
		cacheDuration: DefaultCacheDuration,
	}
	for _, opt := range opts {
		opt(fm)
	}
	return fm
}

func hostCPUModel(ctx context.Context) (string, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", errors.New("no cpu information")
	}
	return infos[0].ModelName, nil
}

// Identify returns "<platformId>-<macAddress>-<cpuModel>". It never fails;
// unreadable parts are replaced by sentinels.
func (fm *FingerprintManager) Identify(ctx context.Context) string {
	return fm.Fingerprint(ctx).MachineID
}

// Fingerprint returns the identity with its parts, from cache when fresh.
func (fm *FingerprintManager) Fingerprint(ctx context.Context) *MachineFingerprint {
	fm.cacheMutex.RLock()
	if fm.cache != nil && fm.clock.Now().Before(fm.cacheExpiry) {
		cached := *fm.cache
		fm.cacheMutex.RUnlock()
		return &cached
	}
	fm.cacheMutex.RUnlock()

	fp := fm.generate(ctx)

	if fm.cacheDuration > 0 {
		fm.cacheMutex.Lock()
		fm.cache = fp
		fm.cacheExpiry = fp.GeneratedAt.Add(fm.cacheDuration)
		fm.cacheMutex.Unlock()
	}

	out := *fp
	return &out
}

func (fm *FingerprintManager) generate(ctx context.Context) *MachineFingerprint {
	start := fm.clock.Now()

	platformID, err := fm.platformID(ctx)
	if err != nil {
		platformID = UnknownMachine
		fm.logger.WarnContext(ctx, "Failed to read platform machine id, using fallback",
			slog.String("error", err.Error()))
	}

	mac, err := fm.MACAddress()
	if err != nil {
		mac = UnknownMAC
		fm.logger.WarnContext(ctx, "Failed to get MAC address, using fallback",
			slog.String("error", err.Error()))
	}

	cpuModel, err := fm.cpuModel(ctx)
	if err != nil {
		cpuModel = UnknownCPU
		fm.logger.WarnContext(ctx, "Failed to get CPU model, using fallback",
			slog.String("error", err.Error()))
	}

	fp := &MachineFingerprint{
		MachineID:   fmt.Sprintf("%s-%s-%s", platformID, mac, cpuModel),
		PlatformID:  platformID,
		MACAddress:  mac,
		CPUModel:    cpuModel,
		GeneratedAt: fm.clock.Now(),
	}

	fm.logger.DebugContext(ctx, "Machine fingerprint generated",
		slog.String("platform_id", platformID),
		slog.String("mac_address", mac),
		slog.String("cpu_model", cpuModel),
		slog.Duration("generation_time", fm.clock.Since(start)))

	return fp
}

func (fm *FingerprintManager) platformID(ctx context.Context) (string, error) {
	id, err := fm.sources.PlatformID(ctx)
	if err != nil {
		return "", err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("platform machine id is empty")
	}
	return id, nil
}

func (fm *FingerprintManager) cpuModel(ctx context.Context) (string, error) {
	model, err := fm.sources.CPUModel(ctx)
	if err != nil {
		return "", err
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("cpu model is empty")
	}
	return model, nil
}

// MACAddress returns the hardware address of the first non-loopback
// interface with a non-zero address.
func (fm *FingerprintManager) MACAddress() (string, error) {
	interfaces, err := fm.sources.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 || isZero(iface.HardwareAddr) {
			continue
		}
		return iface.HardwareAddr.String(), nil
	}

	return "", errors.New("no valid MAC address found")
}

func isZero(addr net.HardwareAddr) bool {
	return bytes.Count(addr, []byte{0}) == len(addr)
}

// ClearCache drops the cached fingerprint.
func (fm *FingerprintManager) ClearCache() {
	fm.cacheMutex.Lock()
	defer fm.cacheMutex.Unlock()

	fm.cache = nil
	fm.cacheExpiry = time.Time{}
}
