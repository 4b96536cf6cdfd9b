package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-voice/backend/internal/analysis/sentence"
	"github.com/zhouzirui/z-voice/backend/internal/config"
	"github.com/zhouzirui/z-voice/backend/internal/logger"
	speechmodel "github.com/zhouzirui/z-voice/backend/internal/model/speech"
	"github.com/zhouzirui/z-voice/backend/internal/service/speech"
)

func main() {
	envErr := godotenv.Load()

	mode := flag.String("mode", "", "测试模式: stt, tts, stream 或 live")
	audioPath := flag.String("audio", "", "stt: 音频文件; live: 16kHz 16bit 单声道 PCM 文件")
	text := flag.String("text", "", "tts/stream 输入文本")
	outputPath := flag.String("out", "", "stream 输出音频文件路径 (默认自动生成)")
	voice := flag.String("voice", "", "Murf 声音 ID，默认使用配置中的 MURF_VOICE_ID")
	style := flag.String("style", "", "Murf 风格，默认使用配置中的 MURF_STYLE")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")
	flag.Parse()

	logger.New(logger.Config{Level: "debug", Pretty: true})
	if envErr != nil {
		log.Warn().Err(envErr).Msg("无法加载 .env，改用系统环境变量")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("配置加载失败")
	}

	svc := speech.NewService(cfg.Speech, speech.Deps{})
	v := speechmodel.Voice{ID: *voice, Style: *style}.WithDefaults(svc.DefaultVoice())

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "stt":
		runSTT(ctx, svc, *audioPath)
	case "tts":
		runTTS(ctx, svc, *text, v)
	case "stream":
		runStream(ctx, cfg.Speech, *text, v, *outputPath)
	case "live":
		runLive(ctx, svc, *audioPath)
	default:
		flag.Usage()
		log.Fatal().Msg("请通过 -mode=stt|tts|stream|live 指定测试模式")
	}
}

func runSTT(ctx context.Context, svc *speech.Service, audioPath string) {
	if audioPath == "" {
		log.Fatal().Msg("stt 模式需要通过 -audio 指定音频文件路径")
	}

	start := time.Now()
	transcript, err := svc.TranscribeFile(ctx, audioPath)
	if err != nil {
		log.Fatal().Err(err).Msg("识别失败")
	}
	log.Info().Str("text", transcript).Dur("took", time.Since(start)).Msg("识别成功")
}

func runTTS(ctx context.Context, svc *speech.Service, text string, voice speechmodel.Voice) {
	if strings.TrimSpace(text) == "" {
		log.Fatal().Msg("tts 模式需要通过 -text 提供待合成文本")
	}

	audioURL, err := svc.SynthesizeURL(ctx, text, voice)
	if err != nil {
		log.Fatal().Err(err).Msg("合成失败")
	}
	log.Info().Str("voice", voice.ID).Str("audio_url", audioURL).Msg("合成成功")
}

// runStream 按句子把文本送入 Murf 流式合成，并把音频块写入文件
func runStream(ctx context.Context, cfg config.SpeechConfig, text string, voice speechmodel.Voice, outputPath string) {
	segments := sentence.Split(text)
	if len(segments) == 0 {
		log.Fatal().Msg("stream 模式需要通过 -text 提供待合成文本")
	}
	if outputPath == "" {
		outputPath = fmt.Sprintf("murf-stream-%d.wav", time.Now().Unix())
	}

	out, err := os.Create(outputPath)
	if err != nil {
		log.Fatal().Err(err).Msg("创建输出文件失败")
	}
	defer out.Close()

	fragments := make(chan sentence.Segment, len(segments))
	for _, seg := range segments {
		fragments <- seg
	}
	close(fragments)

	synth := speech.NewStreamSynthesizer(speech.SynthesizerConfig{
		APIKey:     cfg.MurfKey,
		URL:        cfg.MurfStreamURL,
		SampleRate: cfg.MurfSampleRate,
	})

	start := time.Now()
	result, err := synth.Synthesize(ctx, voice, fragments, func(index int, chunk []byte) {
		if _, err := out.Write(chunk); err != nil {
			log.Error().Err(err).Msg("写入音频块失败")
			return
		}
		log.Debug().Int("index", index).Int("bytes", len(chunk)).Dur("since_start", time.Since(start)).Msg("收到音频块")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("流式合成失败")
	}

	log.Info().
		Str("context_id", result.ContextID).
		Int("fragments", result.Fragments).
		Int("chunks", len(result.Chunks)).
		Str("out", outputPath).
		Msg("流式合成完成")
}

// runLive 以实时速率把 PCM 文件推送到流式识别，并打印识别事件
func runLive(ctx context.Context, svc *speech.Service, audioPath string) {
	if audioPath == "" {
		log.Fatal().Msg("live 模式需要通过 -audio 指定 PCM 文件路径")
	}

	file, err := os.Open(audioPath)
	if err != nil {
		log.Fatal().Err(err).Msg("打开音频文件失败")
	}
	defer file.Close()

	t, err := svc.OpenTranscription(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("打开流式识别失败")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range t.Events() {
			log.Info().
				Str("type", string(event.Type)).
				Str("text", event.Text).
				Bool("end_of_turn", event.IsFinal).
				Bool("formatted", event.Formatted).
				Str("error", event.Error).
				Msg("识别事件")
		}
	}()

	// 100ms of 16kHz 16-bit mono audio.
	buf := make([]byte, 3200)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		n, err := io.ReadFull(file, buf)
		if n > 0 {
			if sendErr := t.Send(buf[:n]); sendErr != nil {
				log.Error().Err(sendErr).Msg("发送音频失败")
				break
			}
		}
		if err != nil {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), speech.CloseTimeout)
	defer cancel()
	if err := t.Close(closeCtx); err != nil {
		log.Warn().Err(err).Msg("关闭流式识别失败")
	}
	<-done
}
