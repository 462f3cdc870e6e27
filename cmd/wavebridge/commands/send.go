package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/gibberwallet/wavebridge/internal/bridge"
	"github.com/gibberwallet/wavebridge/internal/engine"
	"github.com/gibberwallet/wavebridge/internal/engine/air"
	"github.com/gibberwallet/wavebridge/internal/logging"
	"github.com/gibberwallet/wavebridge/internal/peer"
	"github.com/gibberwallet/wavebridge/internal/session"
	"github.com/gibberwallet/wavebridge/internal/wire"
)

var (
	sendConnect  string
	sendChainID  string
	sendProtocol int
	sendTimeout  time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Transmit one message to an in-process wallet peer",
	Long: `Transmit one frame over the simulated air to an in-process wallet peer
and print its reply. Plain text is echoed back by the wallet. With
--connect a connect envelope is sent instead; the wallet does not answer
those.`,
	Example: `  wavebridge send hello
  wavebridge send --connect "My dApp" --chain-id 1`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendConnect, "connect", "", "send a connect envelope for this app name")
	sendCmd.Flags().StringVar(&sendChainID, "chain-id", "1", "chain id announced with --connect")
	sendCmd.Flags().IntVar(&sendProtocol, "protocol", engine.DefaultProtocolID, "modem protocol id")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 20*time.Second, "give up after this long")
}

// frameText builds the frame for the send command.
func frameText(args []string, now time.Time) (string, error) {
	if sendConnect != "" {
		msg, err := wire.NewMessage(wire.TypeConnect, wire.ConnectMessage{AppName: sendConnect, ChainID: sendChainID}, now)
		if err != nil {
			return "", err
		}
		return wire.Encode(msg)
	}
	if len(args) == 0 || args[0] == "" {
		return "", errors.New("nothing to send: pass text or --connect")
	}
	return args[0], nil
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logging.Configure(cfg.Log.Level, cfg.Log.Pretty)

	modem := cfg.Modem
	modem.ProtocolID = sendProtocol
	if err := modem.Validate(); err != nil {
		return err
	}

	text, err := frameText(args, time.Now())
	if err != nil {
		return err
	}
	if !wire.Fits(text, modem.MaxPayload()) {
		return fmt.Errorf("frame is %d bytes, one transmission carries at most %d", len(text), modem.MaxPayload())
	}
	respond := peer.Wallet(time.Now)
	expectReply := len(respond(text)) > 0

	ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
	defer cancel()

	medium := air.NewMedium(air.DefaultTiming())
	provider := session.FactoryProvider{Factory: medium.Factory(), ErrorTable: air.DriverID}

	p, err := peer.Start(ctx, provider, modem, respond)
	if err != nil {
		return err
	}
	defer p.Stop()

	replies := make(chan string, 1)
	sess := session.New(provider, session.WithLogger(logging.Component("send")))
	defer sess.Close()
	b := bridge.New(sess, bridge.SinkFunc(func(name string, body map[string]interface{}) {
		if name != bridge.EventMessageReceived {
			return
		}
		msg, _ := body["message"].(string)
		select {
		case replies <- msg:
		default:
		}
	}), bridge.WithDefaults(modem))
	defer b.Close()
	defer b.Destroy()

	out := cmd.OutOrStdout()
	if _, err := b.Initialize(ctx, engine.Params{}).Await(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	proto, _ := engine.LookupProtocol(modem.ProtocolID)
	printField(out, "protocol", proto.Name)
	printField(out, "airtime", medium.Airtime(modem, text).String())
	printField(out, "sent", text)

	start := time.Now()
	if _, err := b.TransmitMessage(ctx, text).Await(ctx); err != nil {
		return fmt.Errorf("transmit: %w", err)
	}
	if !expectReply {
		fmt.Fprintln(out, styles.Dim.Render("no reply expected"))
		return nil
	}
	if _, err := b.StartListening(ctx).Await(ctx); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	select {
	case reply := <-replies:
		printField(out, "reply", reply)
		if t, ok := wire.Peek(reply); ok {
			printField(out, "type", string(t))
		}
		printField(out, "round trip", strconv.FormatInt(time.Since(start).Milliseconds(), 10)+"ms")
		return nil
	case <-ctx.Done():
		fmt.Fprintln(cmd.ErrOrStderr(), styles.Error.Render("no reply before timeout"))
		return ctx.Err()
	}
}
