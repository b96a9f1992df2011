package services

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"staffsched/internal/exporter"
	"staffsched/internal/license"
	"staffsched/internal/security"
)

// MockLicenseEngine implements LicenseEngine for testing
type MockLicenseEngine struct {
	mock.Mock
	now time.Time
}

func (m *MockLicenseEngine) Activate(ctx context.Context, publicKey, artifact []byte) (*license.ActivationResult, error) {
	args := m.Called(ctx, publicKey, artifact)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*license.ActivationResult), args.Error(1)
}

func (m *MockLicenseEngine) HasActiveLicense(ctx context.Context) *license.Record {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*license.Record)
}

func (m *MockLicenseEngine) Records(ctx context.Context) ([]license.Record, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]license.Record), args.Error(1)
}

func (m *MockLicenseEngine) CreateRecord(ctx context.Context, in license.CreateRecordInput) (*license.Record, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*license.Record), args.Error(1)
}

func (m *MockLicenseEngine) DeleteRecords(ctx context.Context, ids []int64) (int64, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLicenseEngine) Now() time.Time {
	return m.now
}

// MockMachine implements MachineIdentifier for testing
type MockMachine struct {
	mock.Mock
}

func (m *MockMachine) Fingerprint(ctx context.Context) *security.MachineFingerprint {
	args := m.Called(ctx)
	return args.Get(0).(*security.MachineFingerprint)
}

// MockExporter implements RecordExporter for testing
type MockExporter struct {
	mock.Mock
}

func (m *MockExporter) Export(ctx context.Context, w io.Writer, format exporter.Format, records []license.Record) error {
	args := m.Called(ctx, w, format, records)
	return args.Error(0)
}

// MockPinger implements Pinger for testing
type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
