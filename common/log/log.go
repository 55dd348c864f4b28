// Package log wraps logrus with per-instance tagged loggers. Every socket
// and reactor carries an instance name; the tag hook renders it as a
// `[name]:` prefix so interleaved lifecycle logs stay attributable.
package log

import (
	"strings"

	"github.com/sirupsen/logrus"
)

func init() {
	logrus.SetLevel(logrus.InfoLevel)
	if formatter, isText := logrus.StandardLogger().Formatter.(*logrus.TextFormatter); isText {
		formatter.ForceColors = true
	}
	logrus.AddHook(new(TaggedHook))
}

// NewLogger returns a logger entry tagged with the given instance name.
func NewLogger(tag string) *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger()).WithField("tag", tag)
}

// SetVerbose enables debug-level output for all tagged loggers.
func SetVerbose() {
	logrus.SetLevel(logrus.TraceLevel)
}

type TaggedHook struct{}

func (h *TaggedHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *TaggedHook) Fire(entry *logrus.Entry) error {
	if tagObj, loaded := entry.Data["tag"]; loaded {
		tag := tagObj.(string)
		delete(entry.Data, "tag")
		entry.Message = strings.ReplaceAll(entry.Message, tag+": ", "")
		entry.Message = "[" + tag + "]: " + entry.Message
	}
	return nil
}
