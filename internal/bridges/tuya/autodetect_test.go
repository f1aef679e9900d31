package tuya

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAutoDetectPatterns(t *testing.T) {
	tests := []struct {
		name   string
		caps   []string
		report Report
		want   string
		wantOK bool
	}{
		{
			name:   "temperature in tenths",
			caps:   []string{"measure_temperature"},
			report: Report{ID: 1, Type: TypeValue, Value: int64(215)},
			want:   "measure_temperature",
			wantOK: true,
		},
		{
			name:   "temperature wins over humidity",
			caps:   []string{"measure_temperature", "measure_humidity"},
			report: Report{ID: 2, Type: TypeValue, Value: int64(55)},
			want:   "measure_temperature",
			wantOK: true,
		},
		{
			name:   "humidity when temperature not declared",
			caps:   []string{"measure_humidity"},
			report: Report{ID: 2, Type: TypeValue, Value: int64(55)},
			want:   "measure_humidity",
			wantOK: true,
		},
		{
			name:   "battery needs a high datapoint id",
			caps:   []string{"measure_battery"},
			report: Report{ID: 4, Type: TypeValue, Value: int64(80)},
		},
		{
			name:   "battery",
			caps:   []string{"measure_battery"},
			report: Report{ID: 15, Type: TypeValue, Value: int64(80)},
			want:   "measure_battery",
			wantOK: true,
		},
		{
			name:   "out of every range",
			caps:   []string{"measure_temperature", "measure_humidity"},
			report: Report{ID: 1, Type: TypeValue, Value: int64(5000)},
		},
		{
			name:   "non-value type",
			caps:   []string{"measure_temperature"},
			report: Report{ID: 1, Type: TypeEnum, Value: uint8(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewDeviceStore("dev-1", tt.caps)
			rule, ok := AutoDetect(tt.report, store)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, rule.Capability)
		})
	}
}

func TestAutoDetectNilStore(t *testing.T) {
	_, ok := AutoDetect(Report{ID: 1, Type: TypeValue, Value: int64(200)}, nil)
	assert.False(t, ok)
}

func TestAutoDetectRuleDivides(t *testing.T) {
	store := NewDeviceStore("dev-1", []string{"measure_temperature"})
	rule, ok := AutoDetect(Report{ID: 1, Type: TypeValue, Value: int64(215)}, store)
	assert.True(t, ok)

	v, err := rule.Compute(int64(215))
	assert.NoError(t, err)
	assert.InDelta(t, 21.5, v, 1e-9)
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"both nil", nil, nil, true},
		{"one nil", nil, 1, false},
		{"int and float", int64(50), 50.0, true},
		{"different numbers", 1.5, 2.0, false},
		{"bytes", []byte{1, 2}, []byte{1, 2}, true},
		{"bytes differ", []byte{1, 2}, []byte{1, 3}, false},
		{"number and string", 1.0, "1", false},
		{"bools", true, true, true},
		{"strings", "auto", "heat", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.a, tt.b))
		})
	}
}
