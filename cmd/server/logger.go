package main

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

// LineFormatter prints "[time] LEVEL message (key=value ...)".
type LineFormatter struct {
}

func (f *LineFormatter) Format(e *log.Entry) ([]byte, error) {
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := bytes.NewBuffer(make([]byte, 0, 128))
	for i, k := range keys {
		if i > 0 {
			data.WriteByte(' ')
		}
		data.WriteString(fmt.Sprintf("%s=%v", k, e.Data[k]))
	}

	t := e.Time
	if t.IsZero() {
		t = time.Now()
	}

	var msg string
	if data.Len() > 0 {
		msg = fmt.Sprintf("[%s] %-5s %s (%s)\n", t.Format("2006-01-02 15:04:05"), levelName(e.Level), e.Message, data)
	} else {
		msg = fmt.Sprintf("[%s] %-5s %s\n", t.Format("2006-01-02 15:04:05"), levelName(e.Level), e.Message)
	}
	return []byte(msg), nil
}

func levelName(l log.Level) string {
	if l == log.WarnLevel {
		return "WARN"
	}
	b, _ := l.MarshalText()
	return string(bytes.ToUpper(b))
}
