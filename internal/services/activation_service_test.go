package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/javajoker/serialkey-backend/internal/metrics"
	"github.com/javajoker/serialkey-backend/internal/models"
	"github.com/javajoker/serialkey-backend/internal/repository"
	"github.com/javajoker/serialkey-backend/internal/testutil"
	"github.com/javajoker/serialkey-backend/internal/utils"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, category AlertCategory, message string) error {
	args := m.Called(ctx, category, message)
	return args.Error(0)
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	var m dto.Metric
	require.NoError(t, vec.WithLabelValues(labels...).Write(&m))
	return m.GetCounter().GetValue()
}

type ActivationServiceTestSuite struct {
	suite.Suite
	db         *gorm.DB
	notifier   *MockNotifier
	dispatcher *AlertDispatcher
	metrics    *metrics.Metrics
	service    *ActivationService
	product    *models.Product
	license    *models.License
	clock      time.Time
	ctx        context.Context
}

func (s *ActivationServiceTestSuite) SetupTest() {
	var err error

	s.db = testutil.NewTestDB(s.T())
	s.notifier = new(MockNotifier)
	s.metrics, err = metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	s.Require().NoError(err)
	s.dispatcher = NewAlertDispatcher(s.notifier, time.Second, s.metrics)
	s.service = NewActivationService(repository.NewLicenseRepository(s.db), s.dispatcher, s.metrics)

	s.clock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.service.now = func() time.Time { return s.clock }

	s.product = testutil.SeedProduct(s.T(), s.db, "Photo Studio")
	s.license = testutil.SeedLicense(s.T(), s.db, s.product, "ABCD-1234")
	s.ctx = context.Background()
}

func (s *ActivationServiceTestSuite) TearDownTest() {
	s.dispatcher.Wait()
	s.notifier.AssertExpectations(s.T())
}

func (s *ActivationServiceTestSuite) activate(serialKey, deviceID, deviceType string) (*ActivateResult, error) {
	return s.service.Activate(s.ctx, ActivateRequest{
		SerialKey:  serialKey,
		DeviceID:   deviceID,
		DeviceType: deviceType,
		IPAddress:  "203.0.113.7",
	})
}

func (s *ActivationServiceTestSuite) expectAlert(category AlertCategory) {
	s.notifier.On("Notify", mock.Anything, category, mock.AnythingOfType("string")).Return(nil).Once()
}

func (s *ActivationServiceTestSuite) revoke() {
	s.Require().NoError(s.db.Model(&models.License{}).
		Where("id = ?", s.license.ID).
		Update("status", models.LicenseStatusRevoked).Error)
}

func (s *ActivationServiceTestSuite) TestActivateFreshLicense() {
	s.expectAlert(AlertActivation)

	result, err := s.activate("ABCD-1234", "dev-X", "Windows")
	s.Require().NoError(err)
	s.False(result.AlreadyActivated)
	s.Equal(s.license.ID, result.LicenseID)
	s.Equal("Photo Studio", result.ProductName)
	s.True(result.ActivatedAt.Equal(s.clock))

	stored := testutil.ReloadLicense(s.T(), s.db, s.license.ID)
	s.Equal(models.LicenseStatusUsed, stored.Status)
	s.Equal("dev-X", *stored.DeviceID)
	s.Equal("Windows", *stored.DeviceType)
	s.Equal(utils.DeviceFingerprint("ABCD-1234", "dev-X"), *stored.DeviceHash)
	s.WithinDuration(s.clock, *stored.ActivatedAt, time.Second)
	s.WithinDuration(s.clock, *stored.LastActiveAt, time.Second)

	var event models.ActivationLog
	s.Require().NoError(s.db.Where("license_id = ?", s.license.ID).First(&event).Error)
	s.Equal(models.ActivationActionActivate, event.Action)
	s.True(event.Success)
	s.Equal("dev-X", event.DeviceID)
	s.Equal("203.0.113.7", event.IPAddress)
}

func (s *ActivationServiceTestSuite) TestActivateSameDeviceIsIdempotent() {
	s.expectAlert(AlertActivation)

	first, err := s.activate("ABCD-1234", "dev-X", "Windows")
	s.Require().NoError(err)

	for i := 1; i <= 3; i++ {
		s.clock = s.clock.Add(time.Hour)

		again, err := s.activate("ABCD-1234", "dev-X", "Windows")
		s.Require().NoError(err)
		s.True(again.AlreadyActivated)
		s.True(again.ActivatedAt.Equal(first.ActivatedAt), "activated_at never changes")
	}

	stored := testutil.ReloadLicense(s.T(), s.db, s.license.ID)
	s.Equal("dev-X", *stored.DeviceID)
	s.WithinDuration(first.ActivatedAt, *stored.ActivatedAt, time.Second)
	s.WithinDuration(s.clock, *stored.LastActiveAt, time.Second)
	s.Equal(int64(4), testutil.CountActivationLogs(s.T(), s.db, s.license.ID))
}

func (s *ActivationServiceTestSuite) TestActivateForeignDevice() {
	s.expectAlert(AlertActivation)
	s.expectAlert(AlertDeviceConflict)

	_, err := s.activate("ABCD-1234", "dev-X", "Windows")
	s.Require().NoError(err)
	before := testutil.ReloadLicense(s.T(), s.db, s.license.ID)

	s.clock = s.clock.Add(time.Minute)
	_, err = s.activate("ABCD-1234", "dev-Y", "Mac")
	s.ErrorIs(err, ErrDeviceConflict)

	after := testutil.ReloadLicense(s.T(), s.db, s.license.ID)
	s.Equal("dev-X", *after.DeviceID)
	s.Equal("Windows", *after.DeviceType)
	s.WithinDuration(*before.LastActiveAt, *after.LastActiveAt, time.Millisecond)

	var event models.ActivationLog
	s.Require().NoError(s.db.Where("license_id = ? AND success = ?", s.license.ID, false).First(&event).Error)
	s.Equal("Already activated on another device", event.ErrorMessage)
	s.Equal("dev-Y", event.DeviceID)
	s.Equal("Mac", event.DeviceType)
}

func (s *ActivationServiceTestSuite) TestActivateUnknownKey() {
	_, err := s.activate("ZZZZ-0000", "dev-X", "Windows")
	s.ErrorIs(err, ErrLicenseNotFound)

	var count int64
	s.Require().NoError(s.db.Model(&models.ActivationLog{}).Count(&count).Error)
	s.Zero(count, "unknown keys are not audited")
	s.Equal(1.0, counterValue(s.T(), s.metrics.Activations, "not_found"))
}

func (s *ActivationServiceTestSuite) TestActivateRevoked() {
	s.revoke()

	for _, device := range []string{"dev-X", "dev-Y"} {
		_, err := s.activate("ABCD-1234", device, "Windows")
		s.ErrorIs(err, ErrLicenseRevoked)
	}

	stored := testutil.ReloadLicense(s.T(), s.db, s.license.ID)
	s.Equal(models.LicenseStatusRevoked, stored.Status)
	s.Nil(stored.DeviceID)
	s.Nil(stored.ActivatedAt)

	var events []models.ActivationLog
	s.Require().NoError(s.db.Where("license_id = ?", s.license.ID).Find(&events).Error)
	s.Len(events, 2)
	for _, e := range events {
		s.False(e.Success)
		s.Equal("License revoked", e.ErrorMessage)
	}
}

func (s *ActivationServiceTestSuite) TestActivateInvalidRequest() {
	tests := []struct {
		name string
		req  ActivateRequest
	}{
		{"missing serial key", ActivateRequest{DeviceID: "dev-X", DeviceType: "Windows"}},
		{"missing device id", ActivateRequest{SerialKey: "ABCD-1234", DeviceType: "Windows"}},
		{"missing device type", ActivateRequest{SerialKey: "ABCD-1234", DeviceID: "dev-X"}},
		{"blank fields", ActivateRequest{SerialKey: "  ", DeviceID: "dev-X", DeviceType: "Windows"}},
		{"device id too long", ActivateRequest{SerialKey: "ABCD-1234", DeviceID: strings.Repeat("d", 256), DeviceType: "Windows"}},
		{"device type too long", ActivateRequest{SerialKey: "ABCD-1234", DeviceID: "dev-X", DeviceType: strings.Repeat("w", 51)}},
		{"os version too long", ActivateRequest{SerialKey: "ABCD-1234", DeviceID: "dev-X", DeviceType: "Windows", OSVersion: strings.Repeat("1", 101)}},
		{"ip address too long", ActivateRequest{SerialKey: "ABCD-1234", DeviceID: "dev-X", DeviceType: "Windows", IPAddress: strings.Repeat("9", 46)}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.Activate(s.ctx, tt.req)
			s.ErrorIs(err, ErrInvalidRequest)
		})
	}

	s.Equal(models.LicenseStatusAvailable, testutil.ReloadLicense(s.T(), s.db, s.license.ID).Status)
	s.Zero(testutil.CountActivationLogs(s.T(), s.db, s.license.ID))
}

func (s *ActivationServiceTestSuite) TestVerifyBoundDevice() {
	s.expectAlert(AlertActivation)

	_, err := s.activate("ABCD-1234", "dev-X", "Windows")
	s.Require().NoError(err)

	s.clock = s.clock.Add(24 * time.Hour)
	result, err := s.service.Verify(s.ctx, VerifyRequest{SerialKey: "ABCD-1234", DeviceID: "dev-X"})
	s.Require().NoError(err)
	s.Equal("Photo Studio", result.ProductName)

	stored := testutil.ReloadLicense(s.T(), s.db, s.license.ID)
	s.Equal(models.LicenseStatusUsed, stored.Status)
	s.WithinDuration(s.clock, *stored.LastActiveAt, time.Second)
	s.Equal(int64(2), testutil.CountActivationLogs(s.T(), s.db, s.license.ID))
	s.Equal(1.0, counterValue(s.T(), s.metrics.Verifications, "valid"))
}

func (s *ActivationServiceTestSuite) TestVerifyDeviceMismatch() {
	s.expectAlert(AlertActivation)
	s.expectAlert(AlertDeviceMismatch)

	_, err := s.activate("ABCD-1234", "dev-X", "Windows")
	s.Require().NoError(err)

	_, err = s.service.Verify(s.ctx, VerifyRequest{SerialKey: "ABCD-1234", DeviceID: "dev-Y"})
	s.ErrorIs(err, ErrDeviceMismatch)

	stored := testutil.ReloadLicense(s.T(), s.db, s.license.ID)
	s.Equal("dev-X", *stored.DeviceID)

	var event models.ActivationLog
	s.Require().NoError(s.db.Where("license_id = ? AND action = ?", s.license.ID, models.ActivationActionVerify).First(&event).Error)
	s.False(event.Success)
	s.Equal("Device mismatch", event.ErrorMessage)
}

func (s *ActivationServiceTestSuite) TestVerifyNotActivatedIsNotAudited() {
	_, err := s.service.Verify(s.ctx, VerifyRequest{SerialKey: "ABCD-1234", DeviceID: "dev-X"})
	s.ErrorIs(err, ErrNotActivated)

	s.Equal(models.LicenseStatusAvailable, testutil.ReloadLicense(s.T(), s.db, s.license.ID).Status)
	s.Zero(testutil.CountActivationLogs(s.T(), s.db, s.license.ID))
}

func (s *ActivationServiceTestSuite) TestVerifyRevokedIsAudited() {
	s.revoke()

	_, err := s.service.Verify(s.ctx, VerifyRequest{SerialKey: "ABCD-1234", DeviceID: "dev-X"})
	s.ErrorIs(err, ErrLicenseRevoked)
	s.Equal(int64(1), testutil.CountActivationLogs(s.T(), s.db, s.license.ID))
}

func (s *ActivationServiceTestSuite) TestVerifyInvalidAndUnknown() {
	_, err := s.service.Verify(s.ctx, VerifyRequest{SerialKey: "ABCD-1234"})
	s.ErrorIs(err, ErrInvalidRequest)

	_, err = s.service.Verify(s.ctx, VerifyRequest{SerialKey: "ABCD-1234", DeviceID: strings.Repeat("d", 256)})
	s.ErrorIs(err, ErrInvalidRequest)

	_, err = s.service.Verify(s.ctx, VerifyRequest{SerialKey: "ZZZZ-0000", DeviceID: "dev-X"})
	s.ErrorIs(err, ErrLicenseNotFound)
}

func (s *ActivationServiceTestSuite) TestActivateAtFieldLimits() {
	s.expectAlert(AlertActivation)

	result, err := s.service.Activate(s.ctx, ActivateRequest{
		SerialKey:  "ABCD-1234",
		DeviceID:   strings.Repeat("d", 255),
		DeviceType: strings.Repeat("w", 50),
		OSVersion:  strings.Repeat("1", 100),
		IPAddress:  "2001:db8::1",
	})
	s.Require().NoError(err)
	s.False(result.AlreadyActivated)
}

func (s *ActivationServiceTestSuite) TestConcurrentActivationHasOneWinner() {
	s.notifier.On("Notify", mock.Anything, AlertActivation, mock.Anything).Return(nil).Once()
	s.notifier.On("Notify", mock.Anything, AlertDeviceConflict, mock.Anything).Return(nil).Once()

	devices := []string{"dev-A", "dev-B"}
	errs := make([]error, len(devices))

	var g errgroup.Group
	for i, device := range devices {
		i, device := i, device
		g.Go(func() error {
			_, errs[i] = s.activate("ABCD-1234", device, "Linux")
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	stored := testutil.ReloadLicense(s.T(), s.db, s.license.ID)
	s.Require().NotNil(stored.DeviceID)

	winners := 0
	for i, err := range errs {
		if err == nil {
			winners++
			s.Equal(devices[i], *stored.DeviceID)
			continue
		}
		s.ErrorIs(err, ErrDeviceConflict)
	}
	s.Equal(1, winners)
}

func TestActivationServiceSuite(t *testing.T) {
	suite.Run(t, new(ActivationServiceTestSuite))
}

// racingRepo binds another device just before the engine's own conditional
// write, as a concurrent request would.
type racingRepo struct {
	repository.LicenseRepository
	once sync.Once
}

func (r *racingRepo) BindDevice(ctx context.Context, id uuid.UUID, binding repository.DeviceBinding, event *models.ActivationLog) (bool, error) {
	r.once.Do(func() {
		_, _ = r.LicenseRepository.BindDevice(ctx, id, repository.DeviceBinding{
			DeviceID: "dev-winner", DeviceType: "Windows", At: binding.At,
		}, &models.ActivationLog{LicenseID: id, Action: models.ActivationActionActivate, Success: true})
	})
	return r.LicenseRepository.BindDevice(ctx, id, binding, event)
}

func TestActivateLosingRaceRereadsLicense(t *testing.T) {
	db := testutil.NewTestDB(t)
	product := testutil.SeedProduct(t, db, "Photo Studio")
	license := testutil.SeedLicense(t, db, product, "ABCD-1234")

	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, AlertDeviceConflict, mock.Anything).Return(nil).Once()
	dispatcher := NewAlertDispatcher(notifier, time.Second, nil)

	service := NewActivationService(&racingRepo{LicenseRepository: repository.NewLicenseRepository(db)}, dispatcher, nil)

	_, err := service.Activate(context.Background(), ActivateRequest{
		SerialKey: "ABCD-1234", DeviceID: "dev-loser", DeviceType: "Mac",
	})
	require.ErrorIs(t, err, ErrDeviceConflict)

	stored := testutil.ReloadLicense(t, db, license.ID)
	assert.Equal(t, "dev-winner", *stored.DeviceID)

	dispatcher.Wait()
	notifier.AssertExpectations(t)
}

func TestActivateSameDeviceRaceIsSuccess(t *testing.T) {
	db := testutil.NewTestDB(t)
	product := testutil.SeedProduct(t, db, "Photo Studio")
	testutil.SeedLicense(t, db, product, "ABCD-1234")

	repo := &racingRepo{LicenseRepository: repository.NewLicenseRepository(db)}
	service := NewActivationService(repo, nil, nil)

	// the concurrent winner is this same device
	result, err := service.Activate(context.Background(), ActivateRequest{
		SerialKey: "ABCD-1234", DeviceID: "dev-winner", DeviceType: "Windows",
	})
	require.NoError(t, err)
	assert.True(t, result.AlreadyActivated)
}

type failingRepo struct {
	repository.LicenseRepository
	findErr   error
	recordErr error
}

func (r *failingRepo) FindByKey(ctx context.Context, serialKey string) (*models.License, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.LicenseRepository.FindByKey(ctx, serialKey)
}

func (r *failingRepo) RecordEvent(ctx context.Context, event *models.ActivationLog) error {
	if r.recordErr != nil {
		return r.recordErr
	}
	return r.LicenseRepository.RecordEvent(ctx, event)
}

func TestStoreFailureIsWrapped(t *testing.T) {
	db := testutil.NewTestDB(t)
	cause := errors.New("connection reset")
	service := NewActivationService(&failingRepo{
		LicenseRepository: repository.NewLicenseRepository(db),
		findErr:           cause,
	}, nil, nil)

	_, err := service.Activate(context.Background(), ActivateRequest{SerialKey: "ABCD-1234", DeviceID: "dev-X", DeviceType: "Windows"})
	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, cause)

	_, err = service.Verify(context.Background(), VerifyRequest{SerialKey: "ABCD-1234", DeviceID: "dev-X"})
	assert.ErrorIs(t, err, ErrStore)
}

func TestRejectionStandsWhenAuditFails(t *testing.T) {
	db := testutil.NewTestDB(t)
	product := testutil.SeedProduct(t, db, "Photo Studio")
	license := testutil.SeedLicense(t, db, product, "ABCD-1234")
	require.NoError(t, db.Model(license).Update("status", models.LicenseStatusRevoked).Error)

	service := NewActivationService(&failingRepo{
		LicenseRepository: repository.NewLicenseRepository(db),
		recordErr:         errors.New("disk full"),
	}, nil, nil)

	_, err := service.Activate(context.Background(), ActivateRequest{SerialKey: "ABCD-1234", DeviceID: "dev-X", DeviceType: "Windows"})
	assert.ErrorIs(t, err, ErrLicenseRevoked)
	assert.NotErrorIs(t, err, ErrStore)
}

func TestMaskSerialKey(t *testing.T) {
	assert.Equal(t, "ABCD*****", maskSerialKey("ABCD-1234"))
	assert.Equal(t, "****", maskSerialKey("ABC"))
}
