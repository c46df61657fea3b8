package auth

import (
	"go.uber.org/fx"

	"github.com/webitel/im-notify-gateway/config"
)

var Module = fx.Module("auth",
	fx.Provide(ProvideInspector),
)

func ProvideInspector(cfg *config.Config) (Inspector, error) {
	v, err := NewValidator(cfg.Secret.JWT.Secret)
	if err != nil {
		return nil, err
	}
	return v, nil
}
