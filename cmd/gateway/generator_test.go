package main

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgebridge/gateway/internal/gateway"
	"github.com/edgebridge/gateway/internal/model"
)

func TestIncrementalCounterSharedAcrossSensors(t *testing.T) {
	gen := newReadingGenerator(gateway.GeneratorIncremental)
	a := model.SensorManifest{Reference: "A"}
	b := model.SensorManifest{Reference: "B"}

	require.Equal(t, []string{"1"}, gen.next(a))
	require.Equal(t, []string{"2"}, gen.next(b))
	require.Equal(t, []string{"3"}, gen.next(a))
}

func TestRandomStaysWithinRange(t *testing.T) {
	gen := newReadingGenerator(gateway.GeneratorRandom)
	sensor := model.SensorManifest{Reference: "T", Minimum: -5, Maximum: 5}

	for i := 0; i < 200; i++ {
		values := gen.next(sensor)
		require.Len(t, values, 1)
		n, err := strconv.Atoi(values[0])
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, -5)
		require.LessOrEqual(t, n, 5)
	}
}

func TestRandomDegenerateRange(t *testing.T) {
	gen := newReadingGenerator(gateway.GeneratorRandom)
	sensor := model.SensorManifest{Reference: "T", Minimum: 7, Maximum: 7}
	require.Equal(t, []string{"7"}, gen.next(sensor))
}

func TestVectorSizeFromDescription(t *testing.T) {
	gen := newReadingGenerator(gateway.GeneratorIncremental)

	tests := []struct {
		name   string
		sensor model.SensorManifest
		want   int
	}{
		{
			name:   "numeric description with delimiter",
			sensor: model.SensorManifest{Description: "3", Delimiter: ","},
			want:   3,
		},
		{
			name:   "numeric description without delimiter",
			sensor: model.SensorManifest{Description: "3"},
			want:   1,
		},
		{
			name:   "prose description",
			sensor: model.SensorManifest{Description: "ambient temperature", Delimiter: ","},
			want:   1,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Len(t, gen.next(test.sensor), test.want)
		})
	}
}
