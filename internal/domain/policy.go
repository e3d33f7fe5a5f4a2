package domain

import "github.com/shopspring/decimal"

// WithdrawalPolicy holds the operator limits applied to every withdrawal request.
// A non-positive limit disables that check.
type WithdrawalPolicy struct {
	MinAmount          decimal.Decimal
	UserDailyLimit     decimal.Decimal
	PlatformDailyLimit decimal.Decimal
	MaxRequestsPerHour int
}

// WithdrawalUsage is the state a request is evaluated against.
type WithdrawalUsage struct {
	Available         decimal.Decimal
	UserUsedToday     decimal.Decimal
	PlatformUsedToday decimal.Decimal
	RequestsLastHour  int
}

// Check runs the balance, minimum, user cap, platform cap and velocity checks in
// that order and returns the first violation as a *PolicyError.
func (p WithdrawalPolicy) Check(amount decimal.Decimal, u WithdrawalUsage) error {
	if amount.GreaterThan(u.Available) {
		return &PolicyError{
			Err:       ErrInsufficientBalance,
			Limit:     u.Available,
			Used:      decimal.Zero,
			Requested: amount,
			Remaining: nonNegative(u.Available),
		}
	}
	if p.MinAmount.IsPositive() && amount.LessThan(p.MinAmount) {
		return &PolicyError{
			Err:       ErrBelowMinimum,
			Limit:     p.MinAmount,
			Used:      decimal.Zero,
			Requested: amount,
			Remaining: decimal.Zero,
		}
	}
	if p.UserDailyLimit.IsPositive() && u.UserUsedToday.Add(amount).GreaterThan(p.UserDailyLimit) {
		return &PolicyError{
			Err:       ErrUserDailyLimit,
			Limit:     p.UserDailyLimit,
			Used:      u.UserUsedToday,
			Requested: amount,
			Remaining: nonNegative(p.UserDailyLimit.Sub(u.UserUsedToday)),
		}
	}
	if p.PlatformDailyLimit.IsPositive() && u.PlatformUsedToday.Add(amount).GreaterThan(p.PlatformDailyLimit) {
		return &PolicyError{
			Err:       ErrPlatformDailyLimit,
			Limit:     p.PlatformDailyLimit,
			Used:      u.PlatformUsedToday,
			Requested: amount,
			Remaining: nonNegative(p.PlatformDailyLimit.Sub(u.PlatformUsedToday)),
		}
	}
	if p.MaxRequestsPerHour > 0 && u.RequestsLastHour >= p.MaxRequestsPerHour {
		limit := decimal.NewFromInt(int64(p.MaxRequestsPerHour))
		return &PolicyError{
			Err:       ErrVelocityLimit,
			Limit:     limit,
			Used:      decimal.NewFromInt(int64(u.RequestsLastHour)),
			Requested: decimal.NewFromInt(1),
			Remaining: decimal.Zero,
		}
	}
	return nil
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
