package targeting

import (
	"time"

	"beneficiary-service/service/models"

	"github.com/spf13/cast"
)

// 抽样参数从 JSONB 取值的小工具

func floatArg(args models.JSONB, key string, def float64) float64 {
	if args == nil {
		return def
	}
	if v, ok := args[key]; ok {
		if f, err := cast.ToFloat64E(v); err == nil {
			return f
		}
	}
	return def
}

func boolArg(args models.JSONB, key string) bool {
	if args == nil {
		return false
	}
	if v, ok := args[key]; ok {
		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
	}
	return false
}

func stringSliceArg(args models.JSONB, key string) []string {
	if args == nil {
		return nil
	}
	if v, ok := args[key]; ok {
		if ss, err := cast.ToStringSliceE(v); err == nil {
			return ss
		}
	}
	return nil
}

func currentYear() int {
	return time.Now().Year()
}
