package isapi

import (
	"strings"

	"github.com/JoshADC/hikvision-isapi/internal/proto/adapterutil"
)

// settingNames maps known ISAPI paths to the labels the camera's own UI
// uses. Paths not listed here get a name synthesized from the last segment.
var settingNames = map[string]string{
	"WDR/mode":                                            "WDR",
	"WDR/WDRLevel":                                        "WDR Level",
	"BLC/enabled":                                         "BLC",
	"BLC/BLCMode":                                         "BLC Mode",
	"HLC/enabled":                                         "HLC",
	"HLC/HLCLevel":                                        "HLC Level",
	"IrcutFilter/IrcutFilterType":                         "Day/Night Mode",
	"IrcutFilter/nightToDayFilterLevel":                   "Night-to-Day Sensitivity",
	"IrcutFilter/nightToDayFilterTime":                    "Night-to-Day Delay",
	"Exposure/ExposureType":                               "Iris Mode",
	"Exposure/autoIrisLevel":                              "Auto Iris Level",
	"Exposure/OverexposeSuppress/enabled":                 "Smart Supplement Light",
	"Exposure/pIris/pIrisType":                            "P-Iris Mode",
	"Exposure/pIris/IrisLevel":                            "P-Iris Level",
	"Shutter/ShutterLevel":                                "Shutter Speed",
	"Gain/GainLevel":                                      "Gain",
	"Color/brightnessLevel":                               "Brightness",
	"Color/contrastLevel":                                 "Contrast",
	"Color/saturationLevel":                               "Saturation",
	"Color/grayScale/grayScaleMode":                       "Color Space",
	"Sharpness/SharpnessLevel":                            "Sharpness",
	"NoiseReduce/mode":                                    "Noise Reduction",
	"NoiseReduce/GeneralMode/generalLevel":                "Noise Reduction Level",
	"NoiseReduce/AdvancedMode/FrameNoiseReduceLevel":      "Spatial NR Level",
	"NoiseReduce/AdvancedMode/InterFrameNoiseReduceLevel": "Temporal NR Level",
	"Dehaze/DehazeMode":                                   "Defog",
	"Dehaze/DehazeLevel":                                  "Defog Level",
	"WhiteBalance/WhiteBalanceStyle":                      "White Balance",
	"WhiteBalance/WhiteBalanceRed":                        "White Balance Red",
	"WhiteBalance/WhiteBalanceBlue":                       "White Balance Blue",
	"ImageFlip/enabled":                                   "Image Flip",
	"ImageFlip/ImageFlipStyle":                            "Flip Direction",
	"powerLineFrequency/powerLineFrequencyMode":           "Power Line Frequency",
	"SupplementLight/supplementLightMode":                 "Supplement Light",
	"SupplementLight/whiteLightBrightness":                "Light Brightness",
	"SupplementLight/highIrLightBrightness":               "IR High Brightness",
	"SupplementLight/lowIrLightBrightness":                "IR Low Brightness",
	"SupplementLight/mixedLightBrightnessRegulatMode":     "Light Brightness Mode",
	"Scene/mode":                                          "Scene Mode",
	"FocusConfiguration/focusStyle":                       "Focus Mode",
	"LensDistortionCorrection/enabled":                    "Lens Distortion Correction",
	"LensDistortionCorrection/accurateLevel":              "Correction Level",
}

// valueLabels translates raw ISAPI option vocabulary into display labels.
// Lookups are case-sensitive: the cameras use distinct casings for distinct
// vocabularies (BLC modes are upper-case, WDR modes lower-case).
var valueLabels = map[string]string{
	"open":  "On",
	"close": "Off",
	// noise reduction
	"general": "Normal",
	// supplement light
	"colorVuWhiteLight": "White Light",
	"irLight":           "IR",
	// white balance
	"auto1":             "Auto 1",
	"auto2":             "Auto 2",
	"daylightLamp":      "Fluorescent",
	"incandescentlight": "Incandescent",
	"warmlight":         "Warm Light",
	"naturallight":      "Natural Light",
	// exposure / iris
	"pIris-General": "P-Iris",
	// power line
	"50hz": "50 Hz",
	"60hz": "60 Hz",
	// focus
	"SEMIAUTOMATIC": "Semi-automatic",
	"AUTO":          "Auto",
	"MANUAL":        "Manual",
	// BLC modes
	"CLOSE":     "Off",
	"LEFTRIGHT": "Left-Right",
	"UPDOWN":    "Up-Down",
	"CENTER":    "Center",
	"Region":    "Region",
	// generic
	"true":     "On",
	"false":    "Off",
	"manual":   "Manual",
	"auto":     "Auto",
	"locked":   "Locked",
	"advanced": "Advanced",
	"day":      "Day",
	"night":    "Night",
	"schedule": "Schedule",
	"outdoor":  "Outdoor",
	"indoor":   "Indoor",
}

// skipPaths are administrative fields in the capability schema that have no
// user-facing meaning.
var skipPaths = map[string]struct{}{
	"id":                                      {},
	"enabled":                                 {}, // top-level channel enabled
	"videoInputID":                            {},
	"corridor/enabled":                        {},
	"PTZ/enabled":                             {},
	"SupplementLight/isAutoModeBrightnessCfg": {},
	"isSupportLaserSpotManual":                {},
	"isSupportDOFAdjust":                      {},
	"isSupportAntiBandingParams":              {},
}

func displayName(path string) string {
	if name, ok := settingNames[path]; ok {
		return name
	}
	return synthesizeName(path)
}

func valueLabel(raw string) string {
	if label, ok := valueLabels[raw]; ok {
		return label
	}
	return raw
}

// synthesizeName builds a fallback label from the last path segment:
// "NoiseReduce/GeneralMode/generalLevel" → "General Level".
func synthesizeName(path string) string {
	leaf := path[strings.LastIndex(path, "/")+1:]
	var b strings.Builder
	for i := 0; i < len(leaf); i++ {
		if i > 0 && leaf[i] >= 'A' && leaf[i] <= 'Z' && leaf[i-1] >= 'a' && leaf[i-1] <= 'z' {
			b.WriteByte(' ')
		}
		b.WriteByte(leaf[i])
	}
	return adapterutil.TitleCase(b.String())
}
