package helpers

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// GetTestLogger returns a logger that only prints warnings, through the test log
func GetTestLogger(t *testing.T) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	logger.SetOutput(testWriter{t})
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})
	return logger
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// SkewedMicrodata renders categorical records with columns col0..colN-1.
// Values are products of two small random numbers, so a few attributes are
// common and many long combinations are rare.
func SkewedMicrodata(records, columns int, seed int64, delimiter rune) string {
	rng := rand.New(rand.NewSource(seed))

	var b strings.Builder
	writeRow := func(cell func(c int) string) {
		for c := 0; c < columns; c++ {
			if c > 0 {
				b.WriteRune(delimiter)
			}
			b.WriteString(cell(c))
		}
		b.WriteByte('\n')
	}

	writeRow(func(c int) string { return fmt.Sprintf("col%d", c) })
	for r := 0; r < records; r++ {
		writeRow(func(int) string { return fmt.Sprintf("v%d", rng.Intn(4)*rng.Intn(3)) })
	}
	return b.String()
}

// MultiValueMicrodata renders records with columns id, zone and tags, where
// tags holds a "|" separated subset of x, y and z
func MultiValueMicrodata(records int, seed int64) string {
	rng := rand.New(rand.NewSource(seed))

	var b strings.Builder
	b.WriteString("id,zone,tags\n")
	for r := 0; r < records; r++ {
		var tags []string
		for _, tag := range []string{"x", "y", "z"} {
			if rng.Intn(3) > 0 {
				tags = append(tags, tag)
			}
		}
		fmt.Fprintf(&b, "i%d,z%d,%s\n", rng.Intn(3), rng.Intn(2)*rng.Intn(3), strings.Join(tags, "|"))
	}
	return b.String()
}

// WriteTestFile writes content under dir and returns its path
func WriteTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
