// Package mocks provides test doubles for the sheets client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	sheets "github.com/jtwolab/rankops/pkg/sheets"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Values provides a mock function with given fields: ctx, spreadsheetID, rng
func (_m *MockClient) Values(ctx context.Context, spreadsheetID string, rng string) ([][]string, error) {
	ret := _m.Called(ctx, spreadsheetID, rng)

	if len(ret) == 0 {
		panic("no return value specified for Values")
	}

	var r0 [][]string
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string) ([][]string, error)); ok {
		return rf(ctx, spreadsheetID, rng)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, string) [][]string); ok {
		r0 = rf(ctx, spreadsheetID, rng)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([][]string)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, string) error); ok {
		r1 = rf(ctx, spreadsheetID, rng)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// BatchUpdate provides a mock function with given fields: ctx, spreadsheetID, updates, input
func (_m *MockClient) BatchUpdate(ctx context.Context, spreadsheetID string, updates []sheets.RangeUpdate, input sheets.ValueInput) error {
	ret := _m.Called(ctx, spreadsheetID, updates, input)

	if len(ret) == 0 {
		panic("no return value specified for BatchUpdate")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, []sheets.RangeUpdate, sheets.ValueInput) error); ok {
		r0 = rf(ctx, spreadsheetID, updates, input)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// Append provides a mock function with given fields: ctx, spreadsheetID, rng, rows, input
func (_m *MockClient) Append(ctx context.Context, spreadsheetID string, rng string, rows [][]any, input sheets.ValueInput) error {
	ret := _m.Called(ctx, spreadsheetID, rng, rows, input)

	if len(ret) == 0 {
		panic("no return value specified for Append")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string, [][]any, sheets.ValueInput) error); ok {
		r0 = rf(ctx, spreadsheetID, rng, rows, input)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// Tabs provides a mock function with given fields: ctx, spreadsheetID
func (_m *MockClient) Tabs(ctx context.Context, spreadsheetID string) ([]string, error) {
	ret := _m.Called(ctx, spreadsheetID)

	if len(ret) == 0 {
		panic("no return value specified for Tabs")
	}

	var r0 []string
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) ([]string, error)); ok {
		return rf(ctx, spreadsheetID)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) []string); ok {
		r0 = rf(ctx, spreadsheetID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]string)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, spreadsheetID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// AddTab provides a mock function with given fields: ctx, spreadsheetID, title, rows, cols
func (_m *MockClient) AddTab(ctx context.Context, spreadsheetID string, title string, rows int, cols int) error {
	ret := _m.Called(ctx, spreadsheetID, title, rows, cols)

	if len(ret) == 0 {
		panic("no return value specified for AddTab")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string, int, int) error); ok {
		r0 = rf(ctx, spreadsheetID, title, rows, cols)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// InsertRows provides a mock function with given fields: ctx, spreadsheetID, tab, at, count
func (_m *MockClient) InsertRows(ctx context.Context, spreadsheetID string, tab string, at int, count int) error {
	ret := _m.Called(ctx, spreadsheetID, tab, at, count)

	if len(ret) == 0 {
		panic("no return value specified for InsertRows")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string, int, int) error); ok {
		r0 = rf(ctx, spreadsheetID, tab, at, count)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
