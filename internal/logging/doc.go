// Package logging is councild's structured logger: zap underneath, an
// optional OpenTelemetry bridge, and correlation fields carried in the
// context.
//
// Every component logs under its own name (hub, council, ceremony,
// scheduler, provider, field, archive, ...). The name drives two things:
//
//   - Per-component levels. logging.components in the config file lowers
//     or raises one component without touching the rest:
//
//	logging:
//	  level: info
//	  components:
//	    council: debug
//	    scheduler: warn
//
//   - Sampling exemptions. Info and below are sampled per level, but
//     ceremony and scheduler entries always pass so a ceremony's phase
//     log stays complete. Error and above are never sampled.
//
// Log with context:
//
//	ctx := logging.WithCeremonyInstance(ctx, "dawn-1772431200000-1")
//	ctx = logging.WithChannelID(ctx, "ceremony-dawn")
//	logger.Info(ctx, "phase started", zap.Duration("duration", d))
//
// # Redaction
//
// Provider keys arrive as config.Secret and are logged with Secret, which
// keeps the vendor and length only. Petition and chat text goes through
// MemberText. The console encoder also masks sensitive keys and anything
// credential-shaped inside a value or message; values that are already
// redacted are left alone.
//
//	logger.Info(ctx, "provider configured",
//	    logging.Secret("api_key", cfg.APIKey),
//	    logging.MemberText("topic", petition))
//
// # Testing
//
// TestLogger observes everything down to TraceLevel:
//
//	tl := logging.NewTestLogger()
//	h, _ := hub.New(hub.Options{Logger: tl.Underlying(), ...})
//	h.HandleMessage(ctx, in)
//	tl.AssertField(t, "command received", "channel.id", in.ChannelID)
//	tl.AssertNoSecrets(t)
package logging
