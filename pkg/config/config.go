package config

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"os"
	"time"
)

// Reserved annotation keys and their fallbacks.
const (
	KeyCategories   = "categories"
	KeyTid          = "tid"
	DefaultCategory = "all"
	DefaultTid      = 0
)

// StdStream names stdin or stdout in place of a path.
const StdStream = "-"

// for root
var (
	Debug = false
)

// for pkg span
var (
	// 单条记录的上限，防止损坏的长度前缀导致巨量分配
	MaxRecordSize uint64 = 64 << 20
)

// for cmd generate
var (
	// 生成样例日志时的 worker 数量
	GenerateCount = 8
	// 每个 worker 产生的 span 数量
	GenerateDepth = 4
	GenerateStep  = 2 * time.Millisecond
)

// InitLogrus configures the global logger. Logs always go to stderr so the
// data stream stays clean.
func InitLogrus(vp *viper.Viper) {
	if vp != nil {
		Debug = vp.GetBool("debug")
	}
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		TimestampFormat: time.DateTime,
	})
	if Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func init() {
	InitLogrus(nil)
}
