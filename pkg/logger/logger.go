package logger

import (
	"fmt"
	"log"
	"os"
	"strings"

	"k8s.io/klog/v2"
)

// LogLevel 日志级别
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var currentLevel LogLevel = INFO

// ParseLevel 解析日志级别字符串，无法识别时返回 INFO
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Init 初始化日志系统
func Init(level string) {
	currentLevel = ParseLevel(level)

	// 配置 klog
	klog.InitFlags(nil)
	klog.SetOutput(os.Stdout)

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	Info("日志系统初始化完成，级别: %s", level)
}

// SetLevel 运行期调整日志级别
func SetLevel(level LogLevel) {
	currentLevel = level
}

// Enabled 判断指定级别是否输出
func Enabled(level LogLevel) bool {
	return currentLevel <= level
}

// Debug 调试日志
func Debug(format string, args ...interface{}) {
	if currentLevel <= DEBUG {
		message := render("[DEBUG] "+format, args)
		_ = log.Output(2, message)
		klog.V(4).Info(message)
	}
}

// Info 信息日志
func Info(format string, args ...interface{}) {
	if currentLevel <= INFO {
		_ = log.Output(2, render("[INFO] "+format, args))
	}
}

// Warn 警告日志
func Warn(format string, args ...interface{}) {
	if currentLevel <= WARN {
		message := render("[WARN] "+format, args)
		_ = log.Output(2, message)
		klog.Warning(message)
	}
}

// Error 错误日志
func Error(format string, args ...interface{}) {
	if currentLevel <= ERROR {
		message := render("[ERROR] "+format, args)
		_ = log.Output(2, message)
		klog.Error(message)
	}
}

// Fatal 致命错误日志
func Fatal(format string, args ...interface{}) {
	message := render("[FATAL] "+format, args)
	_ = log.Output(2, message)
	klog.Fatal(message)
}

// render 先按格式化动词消费参数，剩余参数按 key=value 追加
func render(format string, args []interface{}) string {
	verbs := countVerbs(format)
	if verbs > len(args) {
		verbs = len(args)
	}
	message := format
	if verbs > 0 {
		message = fmt.Sprintf(format, args[:verbs]...)
	}
	rest := args[verbs:]
	if len(rest) == 0 {
		return message
	}

	var b strings.Builder
	b.WriteString(message)
	for i := 0; i < len(rest); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(rest) {
			fmt.Fprintf(&b, "%v=%v", rest[i], rest[i+1])
		} else {
			fmt.Fprintf(&b, "%v", rest[i])
		}
	}
	return b.String()
}

// countVerbs 统计格式串中会消费参数的动词个数（%% 不计）
func countVerbs(format string) int {
	n := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		if i+1 < len(format) && format[i+1] == '%' {
			i++
			continue
		}
		n++
	}
	return n
}
