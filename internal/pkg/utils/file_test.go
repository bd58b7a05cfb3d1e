package utils

import (
	"testing"
)

func TestMakeValidateFileName(t *testing.T) {
	type args struct {
		ID       string
		fileName string
	}
	tests := []struct {
		name    string
		args    args
		want    string
		wantErr bool
	}{
		{name: "OK", args: args{ID: "2", fileName: "olia.mp3"}, want: "2_olia.mp3", wantErr: false},
		{name: "OK", args: args{ID: "2", fileName: "./olia.mp3"}, want: "2_olia.mp3", wantErr: false},
		{name: "OK", args: args{ID: "2", fileName: "./../olia.mp3"}, want: "2_olia.mp3", wantErr: false},
		{name: "OK UPPER", args: args{ID: "2", fileName: "./1/Olia.MP3"}, want: "2_Olia.mp3", wantErr: false},
		{name: "OK change space", args: args{ID: "2", fileName: "./1/Olia one.MP3"}, want: "2_Olia_one.mp3", wantErr: false},
		{name: "No ID", args: args{ID: "", fileName: "./1/Olia one.MP3"}, want: "Olia_one.mp3", wantErr: false},
		{name: "Fail", args: args{ID: "2", fileName: ".."}, wantErr: true},
		{name: "Fail", args: args{ID: "2", fileName: "/"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MakeValidateFileName(tt.args.ID, tt.args.fileName)
			if (err != nil) != tt.wantErr {
				t.Errorf("MakeValidateFileName() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("MakeValidateFileName() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateDownloadName(t *testing.T) {
	tests := []struct {
		name    string
		v       string
		wantErr bool
	}{
		{name: "OK", v: "transcricao_20240101_101500.txt", wantErr: false},
		{name: "Empty", v: "", wantErr: true},
		{name: "Dots", v: "../secret", wantErr: true},
		{name: "Slash", v: "a/b.txt", wantErr: true},
		{name: "Backslash", v: `a\b.txt`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateDownloadName(tt.v); (err != nil) != tt.wantErr {
				t.Errorf("ValidateDownloadName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSupportAudioExt(t *testing.T) {
	tests := []struct {
		ext  string
		want bool
	}{
		{ext: ".wav", want: true},
		{ext: ".mp3", want: true},
		{ext: ".mp4", want: true},
		{ext: ".m4a", want: true},
		{ext: ".txt", want: false},
		{ext: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			if got := SupportAudioExt(tt.ext); got != tt.want {
				t.Errorf("SupportAudioExt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParamTrue(t *testing.T) {
	tests := []struct {
		prm  string
		want bool
	}{
		{prm: "true", want: true},
		{prm: "True", want: true},
		{prm: "1", want: true},
		{prm: "false", want: false},
		{prm: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.prm, func(t *testing.T) {
			if got := ParamTrue(tt.prm); got != tt.want {
				t.Errorf("ParamTrue() = %v, want %v", got, tt.want)
			}
		})
	}
}
