// 文件: pkg/errs/errs.go
// 计算引擎的错误分类
//
// 所有核心包 (shares / rate / pool / risk / concentration) 都用这里的哨兵错误，
// 调用方通过 errors.Is 区分错误类型，而不是比较字符串。

package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount 负数或非有限值 (NaN / Inf) 的数值输入
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrDivisionGuard 除零保护
	// 空池、零负债这类有明确兜底规则的情况在本地处理，不会走到这里；
	// 只有没有兜底规则的除零才返回它
	ErrDivisionGuard = errors.New("division guard")

	// ErrPriceUnavailable 缺少 USD 估值 (喂价缺失)
	// 不允许把缺失的价格当 0 处理，那样会低估风险
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrMalformedConfig 利率/池子/市场配置缺失或越界
	ErrMalformedConfig = errors.New("malformed config")
)

// InvalidAmount 包装 ErrInvalidAmount，带上字段名和取值
func InvalidAmount(field string, value any) error {
	return fmt.Errorf("%w: %s=%v", ErrInvalidAmount, field, value)
}

// DivisionGuard 包装 ErrDivisionGuard
func DivisionGuard(what string) error {
	return fmt.Errorf("%w: %s", ErrDivisionGuard, what)
}

// PriceUnavailable 包装 ErrPriceUnavailable
func PriceUnavailable(symbol string) error {
	return fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
}

// MalformedConfig 包装 ErrMalformedConfig
func MalformedConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedConfig, fmt.Sprintf(format, args...))
}
