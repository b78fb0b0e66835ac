// Package bot provides the Telegram bot initialization and handlers.
package bot

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/broskiv2/wemine-bot/internal/config"
	"github.com/broskiv2/wemine-bot/internal/logger"
	"github.com/broskiv2/wemine-bot/internal/mining"
)

// Bot wraps the Telegram bot with application dependencies.
type Bot struct {
	bot     *bot.Bot
	cfg     *config.Config
	manager *mining.Manager
}

// New creates a new Bot instance.
func New(cfg *config.Config, manager *mining.Manager) (*Bot, error) {
	b := &Bot{
		cfg:     cfg,
		manager: manager,
	}

	opts := []bot.Option{
		bot.WithMiddlewares(b.registrationMiddleware),
		bot.WithDefaultHandler(b.defaultHandler),
	}

	telegramBot, err := bot.New(cfg.TelegramBotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b.bot = telegramBot
	b.registerHandlers()

	return b, nil
}

// Start begins polling for updates.
func (b *Bot) Start(ctx context.Context) {
	logger.Log.Info().Msg("Bot started polling")
	b.bot.Start(ctx)
}

// registerHandlers sets up command handlers.
func (b *Bot) registerHandlers() {
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, b.handleStart)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypePrefix, b.handleHelp)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/plans", bot.MatchTypePrefix, b.handlePlans)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/buy", bot.MatchTypePrefix, b.handleBuy)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/balance", bot.MatchTypePrefix, b.handleBalance)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypePrefix, b.handleStatus)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/deposit", bot.MatchTypePrefix, b.handleDeposit)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/withdraw", bot.MatchTypePrefix, b.handleWithdraw)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/history", bot.MatchTypePrefix, b.handleHistory)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/claim", bot.MatchTypePrefix, b.handleClaim)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/chart", bot.MatchTypePrefix, b.handleChart)
}

// registrationMiddleware creates the account on first contact before any
// handler runs.
func (b *Bot) registrationMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, tgBot *bot.Bot, update *tgmodels.Update) {
		userID := extractUserID(update)
		if userID == 0 {
			return
		}

		username := extractUsername(update)
		logUserAction(userID, username, update)

		if err := b.manager.RegisterAccount(ctx, userID, username, extractFirstName(update)); err != nil {
			logger.Log.Error().
				Int64("user_id", userID).
				Err(err).
				Msg("Failed to register account")
		}

		next(ctx, tgBot, update)
	}
}

// logUserAction logs the user's input/action.
func logUserAction(userID int64, username string, update *tgmodels.Update) {
	if update.Message == nil {
		return
	}

	logger.Log.Info().
		Int64("user_id", userID).
		Str("username", username).
		Int64("chat_id", update.Message.Chat.ID).
		Str("text", update.Message.Text).
		Msg("User input")
}

// extractUserID gets the user ID from various update types.
func extractUserID(update *tgmodels.Update) int64 {
	if update.Message != nil && update.Message.From != nil {
		return update.Message.From.ID
	}
	if update.CallbackQuery != nil {
		return update.CallbackQuery.From.ID
	}
	return 0
}

// extractUsername gets the username from the update.
func extractUsername(update *tgmodels.Update) string {
	if update.Message != nil && update.Message.From != nil {
		return update.Message.From.Username
	}
	if update.CallbackQuery != nil {
		return update.CallbackQuery.From.Username
	}
	return ""
}

// extractFirstName gets the first name from the update.
func extractFirstName(update *tgmodels.Update) string {
	if update.Message != nil && update.Message.From != nil {
		return update.Message.From.FirstName
	}
	if update.CallbackQuery != nil {
		return update.CallbackQuery.From.FirstName
	}
	return ""
}

// defaultHandler handles unrecognized messages.
func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil {
		return
	}

	logger.Log.Debug().
		Int64("chat_id", update.Message.Chat.ID).
		Str("text", update.Message.Text).
		Msg("Default handler triggered")

	_, err := tgBot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   "I didn't understand that. Use /help to see available commands.",
	})
	if err != nil {
		logger.Log.Error().Err(err).Msg("Failed to send default response")
	}
}
