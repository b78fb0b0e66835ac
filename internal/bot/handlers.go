package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"

	"github.com/broskiv2/wemine-bot/internal/logger"
	"github.com/broskiv2/wemine-bot/internal/mining"
	appmodels "github.com/broskiv2/wemine-bot/internal/models"
)

const historyLimit = 10

// extractCommandArgs strips the /command prefix (and optional @botname
// suffix) from a message and returns the remaining trimmed arguments.
func extractCommandArgs(text, command string) string {
	args := strings.TrimSpace(strings.TrimPrefix(text, command))
	if strings.HasPrefix(args, "@") {
		if spaceIdx := strings.Index(args, " "); spaceIdx != -1 {
			args = strings.TrimSpace(args[spaceIdx:])
		} else {
			args = ""
		}
	}
	return args
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// formatGreeting returns a greeting suffix with the user's name.
func formatGreeting(firstName string) string {
	if firstName == "" {
		return ""
	}
	return ", " + escapeHTML(firstName)
}

// errorMessage maps lifecycle errors to user-facing text.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, mining.ErrAccountNotFound):
		return "❌ Account not found. Send /start first."
	case errors.Is(err, mining.ErrPlanNotFound):
		return "❌ That plan doesn't exist. Use /plans to see the catalog."
	case errors.Is(err, mining.ErrNoActiveSession):
		return "❌ You have no active mining session."
	case errors.Is(err, mining.ErrInvalidAmount):
		return "❌ The amount must be a positive number."
	case errors.Is(err, mining.ErrInsufficientFunds):
		return "❌ Insufficient funds."
	case errors.Is(err, mining.ErrActivePlanExists):
		return "❌ You already have an active mining session. Wait for it to finish or /claim it."
	case errors.Is(err, mining.ErrStoreUnavailable):
		return "⚠️ Temporary problem on our side, please try again in a moment."
	default:
		return "❌ Something went wrong. Please try again."
	}
}

func (b *Bot) reply(ctx context.Context, tg TelegramAPI, chatID int64, text string) {
	_, err := tg.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		logger.Log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

// handleStart handles the /start command.
func (b *Bot) handleStart(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleStartCore(ctx, tgBot, update)
}

// handleStartCore is the testable implementation of handleStart.
func (b *Bot) handleStartCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	firstName := ""
	if update.Message.From != nil {
		firstName = update.Message.From.FirstName
	}

	keyboard := &models.ReplyKeyboardMarkup{
		Keyboard: [][]models.KeyboardButton{{
			{
				Text:   "⛏ Open the Miner",
				WebApp: &models.WebAppInfo{URL: b.cfg.WebAppURL},
			},
		}},
		ResizeKeyboard: true,
	}

	text := fmt.Sprintf(`👋 Welcome to WeMine%s!

Tap the button below to open the miner, or drive everything from chat:

• /plans — browse mining plans
• /buy &lt;plan&gt; — activate a plan
• /status — your mining progress
• /balance — your balance

Use /help for the full command list.`, formatGreeting(firstName))

	logger.Log.Debug().Int64("chat_id", update.Message.Chat.ID).Msg("Sending /start response")
	_, err := tg.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      update.Message.Chat.ID,
		Text:        text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: keyboard,
	})
	if err != nil {
		logger.Log.Error().Err(err).Msg("Failed to send /start response")
	}
}

// handleHelp handles the /help command.
func (b *Bot) handleHelp(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleHelpCore(ctx, tgBot, update)
}

// handleHelpCore is the testable implementation of handleHelp.
func (b *Bot) handleHelpCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	text := `📚 <b>Available Commands</b>

<b>Mining:</b>
• <code>/plans</code> - List purchasable mining plans
• <code>/buy &lt;plan id&gt;</code> - Purchase a plan and start mining
• <code>/status</code> - Show mining progress and days remaining
• <code>/claim</code> - End the session early and collect what's mined

<b>Money:</b>
• <code>/balance</code> - Show your balance
• <code>/deposit &lt;amount&gt; [tx hash]</code> - Record a deposit (credited after confirmation)
• <code>/withdraw &lt;amount&gt; &lt;address&gt;</code> - Withdraw to an external address
• <code>/history</code> - Recent transactions
• <code>/chart</code> - Earnings breakdown chart

<b>Other:</b>
• <code>/start</code> - Open the miner web app
• <code>/help</code> - Show this help message`

	b.reply(ctx, tg, update.Message.Chat.ID, text)
}

// handlePlans handles the /plans command.
func (b *Bot) handlePlans(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handlePlansCore(ctx, tgBot, update)
}

func (b *Bot) handlePlansCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	plans, err := b.manager.ListPlans(ctx)
	if err != nil {
		b.reply(ctx, tg, update.Message.Chat.ID, errorMessage(err))
		return
	}

	var sb strings.Builder
	sb.WriteString("⛏ <b>Mining Plans</b>\n")
	for _, p := range plans {
		fmt.Fprintf(&sb, "\n<b>%d. %s</b> — %s USDT\n%s\nRate: %s/day · Duration: %d days\n",
			p.ID, escapeHTML(p.Name), p.Price.String(),
			escapeHTML(p.Description), p.MiningRate.String(), p.DurationDays)
	}
	sb.WriteString("\nActivate with <code>/buy &lt;plan id&gt;</code>")

	b.reply(ctx, tg, update.Message.Chat.ID, sb.String())
}

// handleBuy handles the /buy command.
func (b *Bot) handleBuy(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleBuyCore(ctx, tgBot, update)
}

func (b *Bot) handleBuyCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	args := extractCommandArgs(update.Message.Text, "/buy")
	planID, err := strconv.Atoi(args)
	if err != nil {
		b.reply(ctx, tg, chatID, "Usage: <code>/buy &lt;plan id&gt;</code> — see /plans for IDs")
		return
	}

	session, err := b.manager.PurchasePlan(ctx, update.Message.From.ID, planID)
	if err != nil {
		b.reply(ctx, tg, chatID, errorMessage(err))
		return
	}

	b.reply(ctx, tg, chatID, fmt.Sprintf(
		"✅ Mining started! Rate: <b>%s/day</b>, running until <b>%s</b>.\nCheck progress with /status.",
		session.MiningRate.String(), session.EndsAt.Format("2 Jan 2006")))
}

// handleBalance handles the /balance command.
func (b *Bot) handleBalance(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleBalanceCore(ctx, tgBot, update)
}

func (b *Bot) handleBalanceCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	account, err := b.manager.GetAccount(ctx, update.Message.From.ID)
	if err != nil {
		b.reply(ctx, tg, update.Message.Chat.ID, errorMessage(err))
		return
	}

	b.reply(ctx, tg, update.Message.Chat.ID,
		fmt.Sprintf("💰 Balance: <b>%s USDT</b>", account.Balance.StringFixed(8)))
}

// handleStatus handles the /status command.
func (b *Bot) handleStatus(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleStatusCore(ctx, tgBot, update)
}

func (b *Bot) handleStatusCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	status, err := b.manager.QueryStatus(ctx, update.Message.From.ID)
	if err != nil {
		b.reply(ctx, tg, update.Message.Chat.ID, errorMessage(err))
		return
	}

	if !status.Active {
		b.reply(ctx, tg, update.Message.Chat.ID,
			"⛏ No active mining session. Pick one with /plans.")
		return
	}

	b.reply(ctx, tg, update.Message.Chat.ID, fmt.Sprintf(
		`⛏ <b>Mining in progress</b>
Mined so far: <b>%s USDT</b>
Rate: %s/day
Days remaining: %d
Ends: %s`,
		status.TotalMined.StringFixed(8), status.MiningRate.String(),
		status.DaysRemaining, status.EndsAt.Format("2 Jan 2006 15:04 MST")))
}

// handleDeposit handles the /deposit command.
func (b *Bot) handleDeposit(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleDepositCore(ctx, tgBot, update)
}

func (b *Bot) handleDepositCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	fields := strings.Fields(extractCommandArgs(update.Message.Text, "/deposit"))
	if len(fields) == 0 {
		b.reply(ctx, tg, chatID, "Usage: <code>/deposit &lt;amount&gt; [tx hash]</code>")
		return
	}

	amount, err := decimal.NewFromString(fields[0])
	if err != nil {
		b.reply(ctx, tg, chatID, errorMessage(mining.ErrInvalidAmount))
		return
	}

	txHash := ""
	if len(fields) > 1 {
		txHash = fields[1]
	}

	entry, err := b.manager.Deposit(ctx, update.Message.From.ID, amount, txHash)
	if err != nil {
		b.reply(ctx, tg, chatID, errorMessage(err))
		return
	}

	b.reply(ctx, tg, chatID, fmt.Sprintf(
		"📥 Deposit #%d for <b>%s USDT</b> recorded. Your balance will be credited once the payment is confirmed.",
		entry.ID, entry.Amount.String()))
}

// handleWithdraw handles the /withdraw command.
func (b *Bot) handleWithdraw(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleWithdrawCore(ctx, tgBot, update)
}

func (b *Bot) handleWithdrawCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	fields := strings.Fields(extractCommandArgs(update.Message.Text, "/withdraw"))
	if len(fields) < 2 {
		b.reply(ctx, tg, chatID, "Usage: <code>/withdraw &lt;amount&gt; &lt;address&gt;</code>")
		return
	}

	amount, err := decimal.NewFromString(fields[0])
	if err != nil {
		b.reply(ctx, tg, chatID, errorMessage(mining.ErrInvalidAmount))
		return
	}

	entry, err := b.manager.Withdraw(ctx, update.Message.From.ID, amount, fields[1])
	if err != nil {
		b.reply(ctx, tg, chatID, errorMessage(err))
		return
	}

	b.reply(ctx, tg, chatID, fmt.Sprintf(
		"📤 Withdrawal #%d for <b>%s USDT</b> to <code>%s</code> is on its way.",
		entry.ID, entry.Amount.Neg().String(), escapeHTML(fields[1])))
}

// handleClaim handles the /claim command: close the session early and
// collect the accrued reward.
func (b *Bot) handleClaim(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleClaimCore(ctx, tgBot, update)
}

func (b *Bot) handleClaimCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	session, err := b.manager.CloseSession(ctx, update.Message.From.ID)
	if err != nil {
		b.reply(ctx, tg, update.Message.Chat.ID, errorMessage(err))
		return
	}

	b.reply(ctx, tg, update.Message.Chat.ID, fmt.Sprintf(
		"🎉 Session closed. <b>%s USDT</b> credited to your balance.",
		session.TotalMined.StringFixed(8)))
}

// handleHistory handles the /history command.
func (b *Bot) handleHistory(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleHistoryCore(ctx, tgBot, update)
}

func (b *Bot) handleHistoryCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	var (
		sb    strings.Builder
		count int
	)
	sb.WriteString("📜 <b>Recent Transactions</b>\n")
	for entry, err := range b.manager.ListTransactions(ctx, update.Message.From.ID) {
		if err != nil {
			b.reply(ctx, tg, chatID, errorMessage(err))
			return
		}
		fmt.Fprintf(&sb, "\n#%d · %s · <b>%s</b> · %s · %s",
			entry.ID, formatKind(entry.Kind), entry.Amount.String(),
			entry.Status, entry.CreatedAt.Format("2 Jan 15:04"))
		count++
		if count >= historyLimit {
			break
		}
	}

	if count == 0 {
		b.reply(ctx, tg, chatID, "📜 No transactions yet.")
		return
	}
	b.reply(ctx, tg, chatID, sb.String())
}

// handleChart handles the /chart command.
func (b *Bot) handleChart(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleChartCore(ctx, tgBot, update)
}

func (b *Bot) handleChartCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	var txs []appmodels.Transaction
	for entry, err := range b.manager.ListTransactions(ctx, update.Message.From.ID) {
		if err != nil {
			b.reply(ctx, tg, chatID, errorMessage(err))
			return
		}
		txs = append(txs, entry)
	}

	chartData, err := GenerateLedgerChart(txs, time.Now().Format("Jan 2006"))
	if err != nil {
		b.reply(ctx, tg, chatID, "📊 Nothing to chart yet — make a deposit or start mining first.")
		return
	}

	_, err = tg.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID: chatID,
		Document: &models.InputFileUpload{
			Filename: fmt.Sprintf("ledger_%s.png", time.Now().Format("2006-01")),
			Data:     bytes.NewReader(chartData),
		},
		Caption: "📊 Ledger breakdown by transaction kind",
	})
	if err != nil {
		logger.Log.Error().Err(err).Msg("Failed to send chart")
	}
}

// formatKind renders a transaction kind for chat output.
func formatKind(kind string) string {
	switch kind {
	case appmodels.TxKindDeposit:
		return "deposit"
	case appmodels.TxKindWithdrawal:
		return "withdrawal"
	case appmodels.TxKindPlanActivation:
		return "plan activation"
	case appmodels.TxKindMiningReward:
		return "mining reward"
	default:
		return kind
	}
}
