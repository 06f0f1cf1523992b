package main

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/edgebridge/gateway/internal/gateway"
	"github.com/edgebridge/gateway/internal/model"
)

// readingGenerator produces demo values for the manifest's sensor slots.
// Random mode draws uniformly from the sensor's [minimum, maximum] range;
// incremental mode counts up through a counter shared by all sensors.
type readingGenerator struct {
	mode    string
	rnd     *rand.Rand
	counter int
}

func newReadingGenerator(mode string) *readingGenerator {
	return &readingGenerator{
		mode: mode,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// next produces the value vector for one sensor. A description that parses
// as a positive number requests that many values; more than one value needs
// a delimiter on the manifest, so the size is ignored without one.
func (g *readingGenerator) next(sensor model.SensorManifest) []string {
	size := 1
	if n, err := strconv.Atoi(sensor.Description); err == nil && n > 0 && sensor.Delimiter != "" {
		size = n
	}
	values := make([]string, size)
	for i := range values {
		values[i] = g.value(sensor)
	}
	return values
}

func (g *readingGenerator) value(sensor model.SensorManifest) string {
	if g.mode == gateway.GeneratorIncremental {
		g.counter++
		return strconv.Itoa(g.counter)
	}
	lo, hi := int(sensor.Minimum), int(sensor.Maximum)
	if hi <= lo {
		return strconv.Itoa(lo)
	}
	return strconv.Itoa(lo + g.rnd.Intn(hi-lo+1))
}
