// SPDX-License-Identifier: MIT

package ffmpeg

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Event is one element of a supervisor's finite event stream.
type Event interface{ isEvent() }

// MediaProps are the source properties sniffed from the encoder's input
// probe output.
type MediaProps struct {
	Duration   time.Duration
	Width      int
	Height     int
	VideoCodec string
	AudioCodec string
}

// MediaIdentified is emitted once, when the input has been probed.
type MediaIdentified struct {
	Props MediaProps
}

// Progress is one encoder progress tick. Fields the encoder did not report
// are zero.
type Progress struct {
	Frame   int64
	FPS     float64
	Quality float64
	Size    int64
	OutTime time.Duration
	Total   time.Duration // source duration, when known
	Bitrate string
	Speed   float64
}

// Log is a single encoder log line with its severity.
type Log struct {
	Level   string
	Message string
}

// Done terminates a successful stream.
type Done struct {
	OutputSize int64
}

// Failed terminates an unsuccessful stream.
type Failed struct {
	Message string
}

func (MediaIdentified) isEvent() {}
func (Progress) isEvent()        {}
func (Log) isEvent()             {}
func (Done) isEvent()            {}
func (Failed) isEvent()          {}

// parseProgress consumes the key=value blocks the encoder writes to stdout
// under -progress, emitting one Progress per block. It runs a blocking read
// loop and must therefore live on its own goroutine, never on a caller that
// multiplexes other work.
func parseProgress(r io.Reader, emit func(Progress)) {
	sc := bufio.NewScanner(r)
	var cur Progress

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)

		switch key {
		case "frame":
			cur.Frame, _ = strconv.ParseInt(val, 10, 64)
		case "fps":
			cur.FPS, _ = strconv.ParseFloat(val, 64)
		case "stream_0_0_q":
			cur.Quality, _ = strconv.ParseFloat(val, 64)
		case "total_size":
			cur.Size, _ = strconv.ParseInt(val, 10, 64)
		case "out_time_us", "out_time_ms": // out_time_ms is microseconds too
			us, err := strconv.ParseInt(val, 10, 64)
			if err == nil {
				cur.OutTime = time.Duration(us) * time.Microsecond
			}
		case "bitrate":
			if val != "N/A" {
				cur.Bitrate = val
			}
		case "speed":
			if v, err := strconv.ParseFloat(strings.TrimSuffix(val, "x"), 64); err == nil {
				cur.Speed = v
			}
		case "progress":
			emit(cur)
		}
	}
}

var (
	levelRe    = regexp.MustCompile(`^\[(trace|debug|verbose|info|warning|error|fatal|panic)\]\s*`)
	durationRe = regexp.MustCompile(`Duration: (\d+):(\d{2}):(\d{2})\.(\d{2})`)
	videoRe    = regexp.MustCompile(`Stream #\d+:\d+.*: Video: (\w+).*?(\d{2,5})x(\d{2,5})`)
	audioRe    = regexp.MustCompile(`Stream #\d+:\d+.*: Audio: (\w+)`)
)

// logParser turns encoder stderr into Log events and accumulates input
// probe lines into a MediaProps, reported once complete.
type logParser struct {
	props      MediaProps
	identified bool
}

// classify splits a "-loglevel level+info" line into severity and message.
// Lines without a level prefix (the input probe banner) default to info.
func classify(line string) (level, msg string) {
	if m := levelRe.FindString(line); m != "" {
		return strings.Trim(m, "[] \t"), strings.TrimPrefix(line, m)
	}
	return "info", line
}

// fatalLevel reports whether a severity makes the whole run an error even if
// the process later exits zero. Some encoders exit 0 despite unrecoverable
// internal failures.
func fatalLevel(level string) bool {
	return level == "fatal" || level == "panic"
}

// observe feeds one stderr line through the probe sniffer, returning a
// MediaIdentified event the first time the source is fully described.
func (p *logParser) observe(msg string) (MediaIdentified, bool) {
	if p.identified {
		return MediaIdentified{}, false
	}
	if m := durationRe.FindStringSubmatch(msg); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		s, _ := strconv.Atoi(m[3])
		cs, _ := strconv.Atoi(m[4])
		p.props.Duration = time.Duration(h)*time.Hour +
			time.Duration(min)*time.Minute +
			time.Duration(s)*time.Second +
			time.Duration(cs)*10*time.Millisecond
	}
	if m := videoRe.FindStringSubmatch(msg); m != nil {
		p.props.VideoCodec = m[1]
		p.props.Width, _ = strconv.Atoi(m[2])
		p.props.Height, _ = strconv.Atoi(m[3])
	}
	if m := audioRe.FindStringSubmatch(msg); m != nil {
		p.props.AudioCodec = m[1]
	}

	if p.props.VideoCodec != "" && p.props.Duration > 0 {
		p.identified = true
		return MediaIdentified{Props: p.props}, true
	}
	return MediaIdentified{}, false
}
