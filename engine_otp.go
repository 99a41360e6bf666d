package castellan

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/castellan-auth/castellan/cache"
	"github.com/castellan-auth/castellan/otp"
)

// otpChallenge is the pending-login record cached behind a challenge
// token between password success and code entry.
type otpChallenge struct {
	UserID   string `json:"user_id"`
	Remember bool   `json:"remember"`
}

func (e *Engine) issueOTPChallenge(ctx context.Context, user *User, remember bool) (string, error) {
	encoded, err := json.Marshal(otpChallenge{UserID: user.ID, Remember: remember})
	if err != nil {
		return "", err
	}

	token := newOpaqueToken()
	if err := e.cache.Set(ctx, cache.NSOTPToken, token, string(encoded), e.config.OTP.ChallengeTTL); err != nil {
		return "", err
	}
	return token, nil
}

// VerifyLoginOTP completes a two-factor login. The challenge token is
// single-use: it is deleted before the session is issued, so replaying it
// fails with ErrOTPChallengeInvalid.
//
// Failed attempts arm a sliding backoff: after n failures, any attempt
// within OTP.ThrottleStep*n of the last failure returns ErrAuthBlocked
// without the code even being compared.
func (e *Engine) VerifyLoginOTP(ctx context.Context, challengeToken, code string) (*LoginResult, error) {
	if e == nil || e.cache == nil {
		return nil, ErrEngineNotReady
	}

	raw, err := e.cache.Get(ctx, cache.NSOTPToken, challengeToken)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			e.metricInc(MetricOTPFailure)
			e.emitAudit(ctx, "otp_verify", false, "", "", ErrOTPChallengeInvalid, nil)
			return nil, ErrOTPChallengeInvalid
		}
		return nil, err
	}

	var challenge otpChallenge
	if err := json.Unmarshal([]byte(raw), &challenge); err != nil {
		return nil, ErrOTPChallengeInvalid
	}

	blocked, err := e.otpThrottleActive(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}
	if blocked {
		e.metricInc(MetricOTPThrottled)
		e.emitAudit(ctx, "otp_verify", false, challenge.UserID, "", ErrAuthBlocked, nil)
		return nil, ErrAuthBlocked
	}

	user, err := e.users.GetByID(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}
	if user.OTPSecret == "" {
		return nil, ErrOTPNotConfigured
	}
	secret, err := otp.DecodeSecret(user.OTPSecret)
	if err != nil {
		return nil, err
	}

	ok, err := otp.VerifyTOTP(secret, code, e.clock(), e.config.OTP.Skew)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := e.recordFailedOTP(ctx, user.ID); err != nil {
			return nil, err
		}
		e.metricInc(MetricOTPFailure)
		e.emitAudit(ctx, "otp_verify", false, user.ID, "", ErrOTPInvalid, nil)
		return nil, ErrOTPInvalid
	}

	// Single-use: the challenge dies before the session is born.
	if err := e.cache.Delete(ctx, cache.NSOTPToken, challengeToken); err != nil {
		return nil, err
	}
	if err := e.clearOTPThrottle(ctx, user.ID); err != nil {
		return nil, err
	}

	sess, err := e.establishSession(ctx, user, challenge.Remember, "", "")
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricOTPSuccess)
	e.emitAudit(ctx, "otp_verify", true, user.ID, sess.ID, nil, nil)
	return &LoginResult{Session: sess}, nil
}

// otpThrottleActive applies the sliding backoff: blocked while
// now - lastFailure <= ThrottleStep * failureCount.
func (e *Engine) otpThrottleActive(ctx context.Context, userID string) (bool, error) {
	attempts, err := e.cache.GetInt64(ctx, cache.NSOTPAttempts, userID)
	if err != nil {
		return false, err
	}
	if attempts == 0 {
		return false, nil
	}

	stamp, err := e.cache.GetInt64(ctx, cache.NSOTPThrottle, userID)
	if err != nil {
		return false, err
	}
	if stamp == 0 {
		return false, nil
	}

	elapsed := e.clock().Unix() - stamp
	return elapsed <= int64(e.config.OTP.ThrottleStep.Seconds())*attempts, nil
}

func (e *Engine) recordFailedOTP(ctx context.Context, userID string) error {
	now := strconv.FormatInt(e.clock().Unix(), 10)
	if err := e.cache.Set(ctx, cache.NSOTPThrottle, userID, now, e.config.OTP.AttemptWindow); err != nil {
		return err
	}
	_, err := e.cache.Increment(ctx, cache.NSOTPAttempts, userID, e.config.OTP.AttemptWindow)
	return err
}

func (e *Engine) clearOTPThrottle(ctx context.Context, userID string) error {
	if err := e.cache.Delete(ctx, cache.NSOTPThrottle, userID); err != nil {
		return err
	}
	return e.cache.Delete(ctx, cache.NSOTPAttempts, userID)
}

// EnableOTP provisions (or rotates) the user's shared secret and returns
// the material an authenticator app needs. Re-running overwrites the
// previous secret.
func (e *Engine) EnableOTP(ctx context.Context, userID string) (*OTPSetup, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	secret, err := otp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	encoded := otp.EncodeSecret(secret)
	if err := e.users.UpdateOTPSecret(ctx, user.ID, encoded); err != nil {
		return nil, err
	}

	uri := otp.ProvisionURI(secret, user.Email, e.config.Issuer)
	png, err := otp.QRCodePNG(uri, 256)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, "otp_enabled", true, user.ID, "", nil, nil)
	return &OTPSetup{Secret: encoded, URI: uri, QRPNG: png}, nil
}
