// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/pageprobe/internal/browser"
)

// -- Driver Mock --

// MockDriver mocks browser.Driver. Evaluate receives the variadic script
// arguments as a single []any.
type MockDriver struct {
	mock.Mock
}

var _ browser.Driver = (*MockDriver)(nil)

func (m *MockDriver) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockDriver) Evaluate(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	ret := m.Called(ctx, script, args)
	raw, _ := ret.Get(0).(json.RawMessage)
	return raw, ret.Error(1)
}

func (m *MockDriver) PressKey(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockDriver) QueryAll(ctx context.Context, selector string) ([]browser.ElementHandle, error) {
	ret := m.Called(ctx, selector)
	handles, _ := ret.Get(0).([]browser.ElementHandle)
	return handles, ret.Error(1)
}

func (m *MockDriver) BoundingBox(ctx context.Context, h browser.ElementHandle) (*browser.Box, error) {
	ret := m.Called(ctx, h)
	box, _ := ret.Get(0).(*browser.Box)
	return box, ret.Error(1)
}

func (m *MockDriver) ComputedStyle(ctx context.Context, h browser.ElementHandle, property string) (string, error) {
	ret := m.Called(ctx, h, property)
	return ret.String(0), ret.Error(1)
}

func (m *MockDriver) WaitForEvent(ctx context.Context, name string, timeout time.Duration) (*browser.Event, error) {
	ret := m.Called(ctx, name, timeout)
	ev, _ := ret.Get(0).(*browser.Event)
	return ev, ret.Error(1)
}

func (m *MockDriver) SetOffline(ctx context.Context, offline bool) error {
	return m.Called(ctx, offline).Error(0)
}

func (m *MockDriver) SetViewportSize(ctx context.Context, width, height int) error {
	return m.Called(ctx, width, height).Error(0)
}

func (m *MockDriver) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Session Factory Mock --

// MockSessionFactory mocks browser.SessionFactory.
type MockSessionFactory struct {
	mock.Mock
}

func (m *MockSessionFactory) NewSession(ctx context.Context) (browser.Driver, error) {
	ret := m.Called(ctx)
	d, _ := ret.Get(0).(browser.Driver)
	return d, ret.Error(1)
}
